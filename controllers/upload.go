package controllers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/bookswap/services"
	"github.com/cppla/bookswap/storage"
	"github.com/cppla/bookswap/utils"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

// uploadError is a rejected multipart upload. Files saved before the rejection are already deleted.
type uploadError struct {
	code    int
	message string
}

func (e *uploadError) Error() string { return e.message }

// OrphanSink deletes uploads of rejected requests off the request path.
type OrphanSink interface {
	DiscardUploads(files []services.UploadedFile)
}

// UploadIntake stores listing images from multipart requests before they reach the upsert engine.
type UploadIntake struct {
	files    storage.FileStore
	orphans  OrphanSink
	maxBytes int64
	maxFiles int
}

// NewUploadIntake creates an intake writing to files with the given per-file and per-request limits.
// Rejected uploads are handed to orphans.
func NewUploadIntake(files storage.FileStore, orphans OrphanSink, maxBytes int64, maxFiles int) *UploadIntake {
	return &UploadIntake{files: files, orphans: orphans, maxBytes: maxBytes, maxFiles: maxFiles}
}

// Receive saves every part of field under a unique name. On any rejection the parts
// already saved are deleted and nothing is returned.
func (u *UploadIntake) Receive(ctx *gin.Context, field string, userID uint) ([]services.UploadedFile, *uploadError) {
	form, err := ctx.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, &uploadError{code: 40030, message: "invalid multipart form"}
	}
	headers := form.File[field]
	if len(headers) > u.maxFiles {
		return nil, &uploadError{code: 40031, message: fmt.Sprintf("at most %d images", u.maxFiles)}
	}

	saved := make([]services.UploadedFile, 0, len(headers))
	for _, header := range headers {
		file, uerr := u.save(ctx.Request.Context(), header, userID)
		if uerr != nil {
			u.Discard(saved)
			return nil, uerr
		}
		saved = append(saved, file)
	}
	return saved, nil
}

func (u *UploadIntake) save(ctx context.Context, header *multipart.FileHeader, userID uint) (services.UploadedFile, *uploadError) {
	if header.Size > u.maxBytes {
		return services.UploadedFile{}, &uploadError{code: 40032, message: fmt.Sprintf("image exceeds %d bytes", u.maxBytes)}
	}
	declared := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if !allowedImageTypes[declared] {
		return services.UploadedFile{}, &uploadError{code: 40033, message: "only jpeg and png images are accepted"}
	}

	src, err := header.Open()
	if err != nil {
		return services.UploadedFile{}, &uploadError{code: 40034, message: "failed to read upload"}
	}
	defer src.Close()

	// the declared type must match the bytes
	head := make([]byte, 512)
	n, _ := io.ReadFull(src, head)
	head = head[:n]
	if sniffed := http.DetectContentType(head); !allowedImageTypes[sniffed] {
		return services.UploadedFile{}, &uploadError{code: 40033, message: "only jpeg and png images are accepted"}
	}

	name := storage.UniqueName(userID, header.Filename)
	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), src), u.maxBytes)
	if err := u.files.Save(ctx, name, body, header.Size, declared); err != nil {
		utils.L().Sugar().Errorf("save upload failed name=%s err=%v", name, err)
		return services.UploadedFile{}, &uploadError{code: 50030, message: "failed to save file"}
	}
	return services.UploadedFile{
		StoredName:   name,
		OriginalName: header.Filename,
		MimeType:     declared,
		SizeBytes:    header.Size,
	}, nil
}

// Discard schedules deletion of saved files of a request the engine never saw.
func (u *UploadIntake) Discard(files []services.UploadedFile) {
	if len(files) == 0 {
		return
	}
	u.orphans.DiscardUploads(files)
}

func (e *uploadError) status() int {
	if e.code >= 50000 {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
