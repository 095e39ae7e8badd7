package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cppla/bookswap/services"
	"github.com/cppla/bookswap/utils"
)

const defaultTagSearchLimit = 20

// TagController serves the HTTP form of the tag prefix search.
type TagController struct {
	coord *services.Coordinator
}

// NewTagController creates a new TagController instance.
func NewTagController(coord *services.Coordinator) *TagController {
	return &TagController{coord: coord}
}

// Search handles GET /api/v1/tags?prefix=&limit=, least used tags first.
func (t *TagController) Search(ctx *gin.Context) {
	limit := defaultTagSearchLimit
	if n, err := strconv.Atoi(ctx.Query("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}
	tags, err := t.coord.SearchTags(ctx.Request.Context(), ctx.Query("prefix"), limit)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	utils.Success(ctx, tags)
}
