package stub

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-console/internal/domain"
	"github.com/tbourn/go-delivery-console/internal/utils"
)

// Server serves the deliveries CRUD API the console's remote client
// expects: GET/POST /deliveries and PUT/DELETE /deliveries/:id.
type Server struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

// NewServer wires a Server to its database.
func NewServer(db *gorm.DB, log zerolog.Logger) *Server {
	return &Server{
		db:  db,
		log: log.With().Str("component", "stub").Logger(),
		now: time.Now,
	}
}

// Register mounts the CRUD routes on r.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/deliveries", s.list)
	r.POST("/deliveries", s.create)
	r.PUT("/deliveries/:id", s.update)
	r.DELETE("/deliveries/:id", s.remove)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
}

func (s *Server) list(c *gin.Context) {
	var rows []DeliveryRow
	if err := s.db.WithContext(c.Request.Context()).Order("id desc").Find(&rows).Error; err != nil {
		s.log.Error().Err(err).Msg("list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "storage failure"})
		return
	}
	out := make([]domain.Delivery, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) create(c *gin.Context) {
	var d domain.Delivery
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid JSON body"})
		return
	}
	if !d.Status.Valid() || d.Recipient == "" || d.Address == "" || d.Date == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "invalid delivery"})
		return
	}
	if d.ID == 0 {
		d.ID = s.now().UnixMilli()
	}

	row := fromDomain(d)
	if err := s.db.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"message": "id already exists"})
			return
		}
		s.log.Error().Err(err).Msg("create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "storage failure"})
		return
	}
	c.JSON(http.StatusCreated, row.toDomain())
}

func (s *Server) update(c *gin.Context) {
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid id"})
		return
	}

	var patch domain.DeliveryPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid JSON body"})
		return
	}
	if patch.Status != nil && !patch.Status.Valid() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "invalid status"})
		return
	}

	var row DeliveryRow
	err := s.db.WithContext(c.Request.Context()).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "delivery not found"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("update lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "storage failure"})
		return
	}

	next := fromDomain(patch.Apply(row.toDomain()))
	next.CreatedAt = row.CreatedAt
	if err := s.db.WithContext(c.Request.Context()).Save(&next).Error; err != nil {
		s.log.Error().Err(err).Msg("update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "storage failure"})
		return
	}
	c.JSON(http.StatusOK, next.toDomain())
}

func (s *Server) remove(c *gin.Context) {
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid id"})
		return
	}

	res := s.db.WithContext(c.Request.Context()).Delete(&DeliveryRow{}, "id = ?", id)
	if res.Error != nil {
		s.log.Error().Err(res.Error).Msg("delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "storage failure"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "delivery not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}
