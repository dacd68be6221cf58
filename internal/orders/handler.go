package orders

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"menulink/internal/lifecycle"
	"menulink/internal/menu"
	"menulink/internal/ordersync"
	"menulink/internal/realtime"
	"menulink/pkg/models"
)

type Handler struct {
	service     *Service
	menus       *menu.Service
	views       *ordersync.Manager
	transitions *lifecycle.Controller
	hub         *realtime.Hub
	logger      *logrus.Logger
}

func NewHandler(service *Service, menus *menu.Service, views *ordersync.Manager, transitions *lifecycle.Controller, hub *realtime.Hub, logger *logrus.Logger) *Handler {
	return &Handler{
		service:     service,
		menus:       menus,
		views:       views,
		transitions: transitions,
		hub:         hub,
		logger:      logger,
	}
}

func (h *Handler) Routes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/merchants/{publicId}/orders", h.PlaceOrder).Methods("POST")
	api.HandleFunc("/merchants/{publicId}/orders", h.ListOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/status", h.TransitionOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/restore", h.RestoreOrder).Methods("POST")

	api.HandleFunc("/merchants/{publicId}/menu", h.ListMenu).Methods("GET")
	api.HandleFunc("/merchants/{publicId}/menu", h.CreateMenuItem).Methods("POST")
	api.HandleFunc("/menu/{id}", h.UpdateMenuItem).Methods("PUT")
	api.HandleFunc("/menu/{id}", h.DeleteMenuItem).Methods("DELETE")

	router.HandleFunc("/ws/merchants/{publicId}/orders", h.hub.HandleChannel(func(r *http.Request) string {
		return realtime.MerchantChannel(mux.Vars(r)["publicId"])
	}))
	router.HandleFunc("/ws/orders/{id}", h.hub.HandleChannel(func(r *http.Request) string {
		return realtime.OrderChannel(mux.Vars(r)["id"])
	}))
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	merchantPublicID := mux.Vars(r)["publicId"]

	var input PlacementInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.logger.WithError(err).Error("Failed to decode order request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.Place(r.Context(), merchantPublicID, input)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrEmptyOrder),
			errors.Is(err, ErrInvalidQuantity),
			errors.Is(err, ErrUnknownMenuItem),
			errors.Is(err, ErrMerchantMismatch):
			h.respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.WithError(err).Error("Failed to place order")
			h.respondWithError(w, http.StatusInternalServerError, "Failed to place order")
		}
		return
	}

	h.respondWithJSON(w, http.StatusCreated, models.OrderResponse{
		Success: true,
		Message: "Order placed",
		Order:   order,
	})
}

// ListOrders serves the synchronized view: merchant view when customer_id is
// absent, the customer's own orders when present. The response marks which
// cancelled orders are still restorable so clients never run their own
// countdown.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := ordersync.Filter{
		MerchantPublicID: mux.Vars(r)["publicId"],
		CustomerID:       r.URL.Query().Get("customer_id"),
	}

	store, err := h.views.View(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load orders snapshot")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to load orders, please retry")
		return
	}

	orders := store.Snapshot()
	type listedOrder struct {
		*models.Order
		Restorable bool `json:"restorable"`
	}
	listed := make([]listedOrder, 0, len(orders))
	for _, order := range orders {
		listed = append(listed, listedOrder{Order: order, Restorable: h.transitions.Restorable(order)})
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  listed,
		"count":   len(listed),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.WithError(err).Error("Failed to get order")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get order")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"order":      order,
		"restorable": h.transitions.Restorable(order),
	})
}

func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.applyTransition(w, r, id, body.Status)
}

// RestoreOrder reopens a cancelled order while its restore window is open.
func (h *Handler) RestoreOrder(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, mux.Vars(r)["id"], models.StatusPending)
}

func (h *Handler) applyTransition(w http.ResponseWriter, r *http.Request, id string, target models.OrderStatus) {
	order, err := h.transitions.Transition(r.Context(), id, target)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOrderNotFound):
			h.respondWithError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, models.ErrInvalidTransition):
			h.respondWithError(w, http.StatusConflict, err.Error())
		case errors.Is(err, lifecycle.ErrPersistFailed):
			h.respondWithError(w, http.StatusInternalServerError, "Failed to update order, state unchanged")
		default:
			h.logger.WithError(err).Error("Failed to transition order")
			h.respondWithError(w, http.StatusInternalServerError, "Failed to update order")
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order updated",
		Order:   order,
	})
}

func (h *Handler) ListMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.menus.List(r.Context(), mux.Vars(r)["publicId"])
	if err != nil {
		h.logger.WithError(err).Error("Failed to list menu items")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to list menu items")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"items":   items,
		"count":   len(items),
	})
}

func (h *Handler) CreateMenuItem(w http.ResponseWriter, r *http.Request) {
	var input menu.ItemInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.menus.Create(r.Context(), mux.Vars(r)["publicId"], input)
	if err != nil {
		h.respondMenuError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, item)
}

func (h *Handler) UpdateMenuItem(w http.ResponseWriter, r *http.Request) {
	var input menu.ItemInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.menus.Update(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		h.respondMenuError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteMenuItem(w http.ResponseWriter, r *http.Request) {
	if err := h.menus.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondMenuError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "menu-service",
	})
}

func (h *Handler) respondMenuError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrMenuItemNotFound):
		h.respondWithError(w, http.StatusNotFound, "Menu item not found")
	case errors.Is(err, menu.ErrEmptyName), errors.Is(err, menu.ErrNegativePrice):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.WithError(err).Error("Menu operation failed")
		h.respondWithError(w, http.StatusInternalServerError, "Menu operation failed")
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// LoggingMiddleware logs request start and completion with duration.
func LoggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Info("Request received")

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}
