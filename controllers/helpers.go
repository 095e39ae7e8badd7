package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/bookswap/middleware"
	"github.com/cppla/bookswap/services"
	"github.com/cppla/bookswap/utils"
)

func getUserID(ctx *gin.Context) (uint, bool) {
	return middleware.UserID(ctx)
}

func parseIDParam(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// decodeField parses a JSON encoded multipart value. Missing or empty values leave v untouched.
func decodeField(ctx *gin.Context, field string, v interface{}) error {
	raw := strings.TrimSpace(ctx.PostForm(field))
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &services.ValidationError{Field: field, Reason: "malformed JSON"}
	}
	return nil
}

// respondServiceError maps upsert engine errors onto the response envelope.
func respondServiceError(ctx *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.Error(ctx, http.StatusBadRequest, 40040, verr.Error())
	case errors.Is(err, services.ErrValidation):
		utils.Error(ctx, http.StatusBadRequest, 40040, "invalid request")
	case errors.Is(err, services.ErrForbidden):
		utils.Error(ctx, http.StatusForbidden, 40310, "forbidden")
	case errors.Is(err, services.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, 40410, "listing not found")
	default:
		utils.Error(ctx, http.StatusInternalServerError, 50040, "internal error")
	}
}

// successCached writes a success envelope and keeps its bytes under key.
func successCached(ctx *gin.Context, key string, data interface{}) {
	body, err := json.Marshal(utils.JSONResponse{Code: 0, Message: "success", Data: data})
	if err != nil {
		utils.Success(ctx, data)
		return
	}
	utils.CacheSetBytes(key, body, time.Hour)
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func serveCached(ctx *gin.Context, key string) bool {
	b, ok := utils.CacheGetBytes(key)
	if !ok {
		return false
	}
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", b)
	return true
}
