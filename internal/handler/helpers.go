package handler

import (
	"errors"
	"strconv"

	"bookmyenv/internal/pkg/response"
	"bookmyenv/internal/service"

	"github.com/gin-gonic/gin"
)

// pageParams reads page and page_size, clamping page_size to 1..100.
func pageParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// writeServiceError maps lifecycle sentinels onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrIntentNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrInvalidIntent):
		response.BadRequest(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
