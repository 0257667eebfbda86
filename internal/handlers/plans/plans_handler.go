// internal/handlers/plans/plans_handler.go
package plans

import (
	"net/http"

	"github.com/D-7J/beast-downloader-bot/internal/catalog"
	"github.com/D-7J/beast-downloader-bot/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type PlanHandler struct {
	catalog *catalog.Catalog
}

func NewPlanHandler(cat *catalog.Catalog) *PlanHandler {
	return &PlanHandler{catalog: cat}
}

// List returns the tier table, gold first.
func (h *PlanHandler) List(c *gin.Context) {
	response.Success(c, http.StatusOK, "plans retrieved", h.catalog.TiersByPriority())
}
