package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/internal/services"
	xhttp "github.com/nicolu0/nexus-relay/pkg/http"
)

type WorkOrderService interface {
	Approve(ctx context.Context, req model.WorkOrderUpsertRequest) (*model.WorkOrder, error)
	UpdateStatus(ctx context.Context, id string, next model.WorkOrderStatus) (*model.WorkOrder, error)
	Get(ctx context.Context, id string) (*model.WorkOrder, error)
	List(ctx context.Context, f model.WorkOrderFilter) ([]*model.WorkOrder, int64, error)
}
type WorkOrderHandler struct {
	svc WorkOrderService
}

func RegisterWorkOrderRoutes(e *router.Group, h *WorkOrderHandler) {
	e.POST("/work-orders", h.ApproveWorkOrder)
	e.GET("/work-orders", h.ListWorkOrders)
	e.GET("/work-orders/{id}", h.GetWorkOrder)
	e.PUT("/work-orders/{id}/status", h.UpdateWorkOrderStatus)
}

func NewWorkOrderHandler(workOrderService WorkOrderService) *WorkOrderHandler {
	return &WorkOrderHandler{
		svc: workOrderService,
	}
}

type approveWorkOrderRequest struct {
	EmailID       string  `json:"email_id"`
	Status        string  `json:"status"`
	LandlordPhone string  `json:"landlord_phone"`
	VendorPhone   string  `json:"vendor_phone"`
	VendorName    *string `json:"vendor_name"`
	Summary       string  `json:"summary"`
	PropertyLabel *string `json:"property_label"`
	UnitLabel     *string `json:"unit_label"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type workOrderListResponse struct {
	Items []*model.WorkOrder `json:"items"`
	Total int64              `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *WorkOrderHandler) ApproveWorkOrder(ctx *xhttp.RequestCtx) {
	var req approveWorkOrderRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	wo, err := h.svc.Approve(ctx, model.WorkOrderUpsertRequest{
		EmailID:       req.EmailID,
		Status:        model.WorkOrderStatus(req.Status),
		LandlordPhone: req.LandlordPhone,
		VendorPhone:   req.VendorPhone,
		VendorName:    req.VendorName,
		Summary:       req.Summary,
		PropertyLabel: req.PropertyLabel,
		UnitLabel:     req.UnitLabel,
	})
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, wo)
}

func (h *WorkOrderHandler) ListWorkOrders(ctx *xhttp.RequestCtx) {
	var f model.WorkOrderFilter

	if v := query(ctx, "landlord_phone"); v != "" {
		f.LandlordPhone = &v
	}
	if v := query(ctx, "vendor_phone"); v != "" {
		f.VendorPhone = &v
	}
	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.WorkOrderStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, workOrderListResponse{Items: items, Total: total})
}

func (h *WorkOrderHandler) GetWorkOrder(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")
	if id == "" {
		writeError(ctx, 400, "id is required")
		return
	}

	wo, err := h.svc.Get(ctx, id)
	if err != nil {
		writeError(ctx, 404, "work order not found")
		return
	}
	writeJSON(ctx, 200, wo)
}

func (h *WorkOrderHandler) UpdateWorkOrderStatus(ctx *xhttp.RequestCtx) {
	id := param(ctx, "id")
	if id == "" {
		writeError(ctx, 400, "id is required")
		return
	}

	var req updateStatusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	wo, err := h.svc.UpdateStatus(ctx, id, model.WorkOrderStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidStatus):
			writeError(ctx, 400, err.Error())
		case errors.Is(err, services.ErrWorkOrderNotFound):
			writeError(ctx, 404, err.Error())
		case errors.Is(err, services.ErrAlreadyTerminal):
			writeError(ctx, 409, err.Error())
		default:
			writeError(ctx, 500, err.Error())
		}
		return
	}
	writeJSON(ctx, 200, wo)
}
