package controllers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/bookswap/models"
	"github.com/cppla/bookswap/services"
	"github.com/cppla/bookswap/storage"
	"github.com/cppla/bookswap/utils"
)

// ListingController exposes listing reads and the multipart create/edit endpoints.
type ListingController struct {
	coord  *services.Coordinator
	intake *UploadIntake
	files  storage.FileStore
}

// NewListingController creates a new ListingController instance.
func NewListingController(coord *services.Coordinator, intake *UploadIntake, files storage.FileStore) *ListingController {
	return &ListingController{coord: coord, intake: intake, files: files}
}

type idRef struct {
	ID uint `json:"id"`
}

func idsOf(refs []idRef) []uint {
	ids := make([]uint, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

func cleanTags(texts []services.NewTagText) []services.NewTagText {
	for i := range texts {
		texts[i].Text = utils.StripTags(texts[i].Text)
	}
	return texts
}

// CreateListing handles POST /listing/new.
func (l *ListingController) CreateListing(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	files, uerr := l.intake.Receive(ctx, "images", userID)
	if uerr != nil {
		utils.Error(ctx, uerr.status(), uerr.code, uerr.message)
		return
	}

	req := services.CreateListingRequest{
		RequesterID: userID,
		Name:        utils.StripTags(ctx.PostForm("name")),
		Description: utils.Sanitize(ctx.PostForm("description")),
		Type:        models.ListingType(strings.TrimSpace(ctx.PostForm("type"))),
		TitleImage:  strings.TrimSpace(ctx.PostForm("titleImage")),
		Files:       files,
	}
	price, err := strconv.ParseInt(strings.TrimSpace(ctx.PostForm("price")), 10, 64)
	if err != nil {
		l.intake.Discard(files)
		utils.Error(ctx, http.StatusBadRequest, 40041, "price must be an integer")
		return
	}
	req.Price = price
	if err := decodeField(ctx, "tags", &req.Tags); err != nil {
		l.intake.Discard(files)
		respondServiceError(ctx, err)
		return
	}
	if err := decodeField(ctx, "newTags", &req.NewTags); err != nil {
		l.intake.Discard(files)
		respondServiceError(ctx, err)
		return
	}
	req.NewTags = cleanTags(req.NewTags)

	listing, err := l.coord.CreateListing(ctx.Request.Context(), req)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	utils.InvalidateListing(listing.ID)
	utils.Created(ctx, listing)
}

type editInfo struct {
	ID          uint                  `json:"id"`
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Price       *int64                `json:"price"`
	Type        *models.ListingType   `json:"type"`
	Status      *models.ListingStatus `json:"status"`
	TitleImage  *string               `json:"title_image"`
}

// EditListing handles POST /listing/edit.
func (l *ListingController) EditListing(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	files, uerr := l.intake.Receive(ctx, "newImages", userID)
	if uerr != nil {
		utils.Error(ctx, uerr.status(), uerr.code, uerr.message)
		return
	}

	var info editInfo
	var assigned, removed, removedImages []idRef
	var fresh []services.NewTagText
	for field, dst := range map[string]interface{}{
		"info":          &info,
		"assignedTags":  &assigned,
		"removedTags":   &removed,
		"removedImages": &removedImages,
		"newTags":       &fresh,
	} {
		if err := decodeField(ctx, field, dst); err != nil {
			l.intake.Discard(files)
			respondServiceError(ctx, err)
			return
		}
	}
	if info.Name != nil {
		name := utils.StripTags(*info.Name)
		info.Name = &name
	}
	if info.Description != nil {
		desc := utils.Sanitize(*info.Description)
		info.Description = &desc
	}

	req := services.EditListingRequest{
		RequesterID:   userID,
		ListingID:     info.ID,
		Name:          info.Name,
		Description:   info.Description,
		Price:         info.Price,
		Type:          info.Type,
		Status:        info.Status,
		TitleImage:    info.TitleImage,
		NewTags:       cleanTags(fresh),
		RemovedImages: idsOf(removedImages),
		Files:         files,
	}
	for _, id := range idsOf(assigned) {
		req.AssignedTags = append(req.AssignedTags, services.TagRef{ID: id})
	}
	for _, id := range idsOf(removed) {
		req.RemovedTags = append(req.RemovedTags, services.TagRef{ID: id})
	}

	listing, err := l.coord.EditListing(ctx.Request.Context(), req)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	utils.InvalidateListing(listing.ID)
	utils.Success(ctx, listing)
}

// DeleteListing handles DELETE /user/listing/delete/:listingId.
func (l *ListingController) DeleteListing(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	id, ok := parseIDParam(ctx, "listingId")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40042, "invalid listing id")
		return
	}
	if err := l.coord.DeleteListing(ctx.Request.Context(), userID, id); err != nil {
		respondServiceError(ctx, err)
		return
	}
	utils.InvalidateListing(id)
	utils.Success(ctx, gin.H{"id": id, "deleted": true})
}

// UpdateStatus handles POST /user/listing/update/status.
func (l *ListingController) UpdateStatus(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	var req struct {
		ID     uint                 `json:"id" binding:"required"`
		Status models.ListingStatus `json:"status" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40043, "invalid request payload")
		return
	}
	listing, err := l.coord.SetListingStatus(ctx.Request.Context(), userID, req.ID, req.Status)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	utils.InvalidateListing(listing.ID)
	utils.Success(ctx, listing)
}

// GetListing handles GET /public/listing/:listingId.
func (l *ListingController) GetListing(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "listingId")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40042, "invalid listing id")
		return
	}
	key := utils.ListingDetailKey(id)
	if serveCached(ctx, key) {
		return
	}
	listing, err := l.coord.GetListing(ctx.Request.Context(), id)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	successCached(ctx, key, listing)
}

// RecentListings handles GET /public/listings/new/:page.
func (l *ListingController) RecentListings(ctx *gin.Context) {
	page, err := strconv.Atoi(ctx.Param("page"))
	if err != nil || page < 0 {
		utils.Error(ctx, http.StatusBadRequest, 40045, "page must be a non-negative integer")
		return
	}
	key := fmt.Sprintf("%snew:page=%d", utils.ListingListKeyPrefix, page)
	if serveCached(ctx, key) {
		return
	}
	listings, err := l.coord.RecentListings(ctx.Request.Context(), page)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	successCached(ctx, key, listings)
}

// FilterListings handles POST /public/listings/filter. Results are not cached.
func (l *ListingController) FilterListings(ctx *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		Type  string `json:"type"`
		Price *struct {
			Min *int64 `json:"min"`
			Max *int64 `json:"max"`
		} `json:"price"`
		Tags []idRef `json:"tags"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.Error(ctx, http.StatusBadRequest, 40044, "invalid filter payload")
		return
	}
	filter := services.ListingFilter{
		Name:   utils.StripTags(req.Name),
		Type:   models.ListingType(strings.TrimSpace(req.Type)),
		TagIDs: idsOf(req.Tags),
	}
	if req.Price != nil {
		filter.MinPrice, filter.MaxPrice = req.Price.Min, req.Price.Max
	}
	listings, err := l.coord.FilterListings(ctx.Request.Context(), filter)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	utils.Success(ctx, listings)
}

// MyListings handles POST /user/listings.
func (l *ListingController) MyListings(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	listings, err := l.coord.ListingsByPoster(ctx.Request.Context(), userID)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	utils.Success(ctx, listings)
}

// OwnedListing handles POST /user/listing/:listingId, the poster's edit view.
func (l *ListingController) OwnedListing(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	id, ok := parseIDParam(ctx, "listingId")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40042, "invalid listing id")
		return
	}
	listing, err := l.coord.GetOwnedListing(ctx.Request.Context(), userID, id)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	utils.Success(ctx, listing)
}

// ServeUpload handles GET /public/uploads/:name by streaming the stored file.
func (l *ListingController) ServeUpload(ctx *gin.Context) {
	name := ctx.Param("name")
	rc, err := l.files.Open(ctx.Request.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
			utils.Error(ctx, http.StatusNotFound, 40420, "file not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to open file")
		return
	}
	defer rc.Close()
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx.Header("Cache-Control", "public, max-age=86400")
	ctx.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}
