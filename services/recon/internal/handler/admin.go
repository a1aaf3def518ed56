package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/services/recon/internal/domain"
	"example.com/payment-recon/services/recon/internal/middleware"
	"example.com/payment-recon/services/recon/internal/service"
)

// AdminHandler — привилегированные операции операторов.
type AdminHandler struct {
	admin service.AdminService
}

// NewAdminHandler создаёт обработчик админского API.
func NewAdminHandler(admin service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// getOperatorID извлекает ID оператора из контекста (ставится AuthMiddleware).
func (h *AdminHandler) getOperatorID(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.CtxOperatorID)
	if id == "" {
		// Middleware обязан был прервать запрос раньше
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Требуется авторизация",
		})
		return "", false
	}
	return id, true
}

// OverrideRequest — ручная корректировка платёжного статуса.
type OverrideRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// OverrideResponse — результат корректировки.
type OverrideResponse struct {
	Success        bool   `json:"success"`
	Outcome        string `json:"outcome"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	OrderStatus    string `json:"order_status"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

// OverridePaymentStatus вручную меняет платёжный статус заказа.
// POST /admin/v1/orders/:id/payment-status
func (h *AdminHandler) OverridePaymentStatus(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	operatorID, ok := h.getOperatorID(c)
	if !ok {
		return
	}

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос корректировки")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Поля status и reason обязательны",
		})
		return
	}

	result, err := h.admin.OverridePaymentStatus(ctx, c.Param("id"), operatorID, req.Status, req.Reason)
	if err != nil {
		HandleServiceError(c, err, "OverridePaymentStatus")
		return
	}

	log.Info().
		Str("order_id", c.Param("id")).
		Str("operator_id", operatorID).
		Str("outcome", string(result.Outcome)).
		Msg("Ручная корректировка выполнена")

	c.JSON(http.StatusOK, OverrideResponse{
		Success:        result.Success,
		Outcome:        string(result.Outcome),
		PreviousStatus: string(result.PreviousStatus),
		NewStatus:      string(result.NewStatus),
		OrderStatus:    string(result.OrderStatus),
		FailureReason:  result.FailureReason,
	})
}

// GetOrder возвращает заказ с транзакциями и аудитом.
// GET /admin/v1/orders/:id
func (h *AdminHandler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.getOperatorID(c); !ok {
		return
	}

	details, err := h.admin.GetOrder(ctx, c.Param("id"))
	if err != nil {
		HandleServiceError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, toOrderDetailsResponse(details))
}

// LockOrder берёт кооперативную блокировку заказа на сессию оператора.
// POST /admin/v1/orders/:id/lock
func (h *AdminHandler) LockOrder(c *gin.Context) {
	ctx := c.Request.Context()

	operatorID, ok := h.getOperatorID(c)
	if !ok {
		return
	}

	acquired, err := h.admin.LockOrder(ctx, c.Param("id"), operatorID)
	if err != nil {
		HandleServiceError(c, err, "LockOrder")
		return
	}

	if !acquired {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "order_busy",
			Message: "Заказ уже заблокирован другим оператором",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"locked": true})
}

// UnlockOrder снимает кооперативную блокировку заказа.
// DELETE /admin/v1/orders/:id/lock
func (h *AdminHandler) UnlockOrder(c *gin.Context) {
	ctx := c.Request.Context()

	operatorID, ok := h.getOperatorID(c)
	if !ok {
		return
	}

	if err := h.admin.UnlockOrder(ctx, c.Param("id"), operatorID); err != nil {
		HandleServiceError(c, err, "UnlockOrder")
		return
	}

	c.JSON(http.StatusOK, gin.H{"locked": false})
}

// OrphanListResponse — страница транзакций-сирот.
type OrphanListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Pagination   PaginationResponse    `json:"pagination"`
}

// PaginationResponse — информация о пагинации.
type PaginationResponse struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
}

// ListOrphaned возвращает страницу транзакций без распознанного заказа.
// GET /admin/v1/transactions/orphaned?page=1&page_size=20
func (h *AdminHandler) ListOrphaned(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.getOperatorID(c); !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	txns, total, err := h.admin.ListOrphaned(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		HandleServiceError(c, err, "ListOrphaned")
		return
	}

	resp := OrphanListResponse{
		Transactions: make([]TransactionResponse, len(txns)),
		Pagination: PaginationResponse{
			CurrentPage: page,
			PageSize:    pageSize,
			TotalItems:  total,
		},
	}
	for i, tx := range txns {
		resp.Transactions[i] = toTransactionResponse(tx)
	}

	c.JSON(http.StatusOK, resp)
}

// LinkOrphanRequest — привязка сироты к заказу.
type LinkOrphanRequest struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
}

// LinkOrphan вручную привязывает транзакцию-сироту к заказу.
// POST /admin/v1/transactions/orphaned/:id/link
func (h *AdminHandler) LinkOrphan(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	operatorID, ok := h.getOperatorID(c)
	if !ok {
		return
	}

	var req LinkOrphanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос привязки сироты")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Поле order_id обязательно",
		})
		return
	}

	if err := h.admin.LinkOrphan(ctx, c.Param("id"), req.OrderID, operatorID); err != nil {
		HandleServiceError(c, err, "LinkOrphan")
		return
	}

	log.Info().
		Str("transaction_id", c.Param("id")).
		Str("order_id", req.OrderID).
		Str("operator_id", operatorID).
		Msg("Сирота привязана к заказу")

	c.JSON(http.StatusOK, gin.H{"linked": true})
}

// === Response DTOs ===

// OrderDetailsResponse — заказ со связанными данными для оператора.
type OrderDetailsResponse struct {
	Order        OrderResponse         `json:"order"`
	Transactions []TransactionResponse `json:"transactions"`
	Audit        []AuditResponse       `json:"audit"`
	LockHolder   string                `json:"lock_holder,omitempty"`
}

// OrderResponse — заказ в ответе API.
type OrderResponse struct {
	ID               string `json:"id"`
	OrderNumber      string `json:"order_number"`
	CustomerEmail    string `json:"customer_email"`
	TotalAmount      int64  `json:"total_amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	PaymentReference string `json:"payment_reference,omitempty"`
	ProcessingLock   bool   `json:"processing_lock"`
	PaidAt           *int64 `json:"paid_at,omitempty"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

// TransactionResponse — транзакция в ответе API.
type TransactionResponse struct {
	ID                string `json:"id"`
	Reference         string `json:"reference"`
	ProviderReference string `json:"provider_reference"`
	OrderID           string `json:"order_id,omitempty"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

// AuditResponse — запись аудита в ответе API.
type AuditResponse struct {
	ID             string `json:"id"`
	Actor          string `json:"actor"`
	Action         string `json:"action"`
	Reference      string `json:"reference,omitempty"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status,omitempty"`
	Reason         string `json:"reason,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

func toOrderDetailsResponse(d *service.OrderDetails) OrderDetailsResponse {
	resp := OrderDetailsResponse{
		Order:        toOrderResponse(d.Order),
		Transactions: make([]TransactionResponse, len(d.Transactions)),
		Audit:        make([]AuditResponse, len(d.Audit)),
		LockHolder:   d.LockHolder,
	}
	for i, tx := range d.Transactions {
		resp.Transactions[i] = toTransactionResponse(tx)
	}
	for i, rec := range d.Audit {
		resp.Audit[i] = AuditResponse{
			ID:             rec.ID,
			Actor:          rec.Actor,
			Action:         string(rec.Action),
			Reference:      rec.Reference,
			PreviousStatus: rec.PreviousStatus,
			NewStatus:      rec.NewStatus,
			Reason:         rec.Reason,
			CreatedAt:      rec.CreatedAt.Unix(),
		}
	}
	return resp
}

func toOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		CustomerEmail:    o.CustomerEmail,
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
		Status:           string(o.Status),
		PaymentStatus:    string(o.PaymentStatus),
		PaymentReference: o.PaymentReference,
		ProcessingLock:   o.ProcessingLock,
		CreatedAt:        o.CreatedAt.Unix(),
		UpdatedAt:        o.UpdatedAt.Unix(),
	}
	if o.PaidAt != nil {
		resp.PaidAt = unixPtr(*o.PaidAt)
	}
	return resp
}

func toTransactionResponse(tx *domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                tx.ID,
		Reference:         tx.Reference,
		ProviderReference: tx.ProviderReference,
		Amount:            tx.Amount,
		Currency:          tx.Currency,
		Status:            string(tx.Status),
		CreatedAt:         tx.CreatedAt.Unix(),
		UpdatedAt:         tx.UpdatedAt.Unix(),
	}
	if tx.OrderID != nil {
		resp.OrderID = *tx.OrderID
	}
	return resp
}

func unixPtr(t time.Time) *int64 {
	v := t.Unix()
	return &v
}
