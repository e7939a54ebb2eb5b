package adminapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/admin"
	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/wallet"
)

type productRequest struct {
	Name             string `json:"name"`
	PriceSatang      int64  `json:"price_satang"`
	Description      string `json:"description"`
	Active           *bool  `json:"active"`
	MessageTemplate  string `json:"message_template"`
	RetailMultiplier int    `json:"retail_multiplier"`
	Category         string `json:"category"`
}

type productPayload struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	PriceSatang      int64  `json:"price_satang"`
	Description      string `json:"description"`
	Stock            int    `json:"stock"`
	Active           bool   `json:"active"`
	MessageTemplate  string `json:"message_template"`
	RetailMultiplier int    `json:"retail_multiplier"`
	Category         string `json:"category"`
}

func (server *Server) handleListProducts(ginContext *gin.Context) {
	includeInactive := ginContext.Query("all") == "true"
	products, err := server.operators.Products(ginContext.Request.Context(), includeInactive)
	if err != nil {
		server.logger.Error("product listing failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "listing failed"))
		return
	}
	payloads := make([]productPayload, 0, len(products))
	for _, product := range products {
		payloads = append(payloads, mapProductPayload(product))
	}
	ginContext.JSON(http.StatusOK, gin.H{"products": payloads})
}

func (server *Server) handleCreateProduct(ginContext *gin.Context) {
	input, ok := bindProductInput(ginContext)
	if !ok {
		return
	}
	product, err := server.operators.CreateProduct(ginContext.Request.Context(), input)
	if errors.Is(err, admin.ErrInvalidInput) {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_input", err.Error()))
		return
	}
	if err != nil {
		server.logger.Error("product creation failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "creation failed"))
		return
	}
	ginContext.JSON(http.StatusCreated, gin.H{"product": mapProductPayload(product)})
}

func (server *Server) handleUpdateProduct(ginContext *gin.Context) {
	productID, ok := pathID(ginContext)
	if !ok {
		return
	}
	input, ok := bindProductInput(ginContext)
	if !ok {
		return
	}
	product, err := server.operators.UpdateProduct(ginContext.Request.Context(), productID, input)
	if errors.Is(err, inventory.ErrProductNotFound) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such product"))
		return
	}
	if errors.Is(err, admin.ErrInvalidInput) {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_input", err.Error()))
		return
	}
	if err != nil {
		server.logger.Error("product update failed", zap.Int64("product_id", productID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "update failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"product": mapProductPayload(product)})
}

func (server *Server) handleDeactivateProduct(ginContext *gin.Context) {
	productID, ok := pathID(ginContext)
	if !ok {
		return
	}
	err := server.operators.DeactivateProduct(ginContext.Request.Context(), productID)
	if errors.Is(err, inventory.ErrProductNotFound) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such product"))
		return
	}
	if err != nil {
		server.logger.Error("product deactivation failed", zap.Int64("product_id", productID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "deactivation failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handleListShortCodes(ginContext *gin.Context) {
	productID, ok := pathID(ginContext)
	if !ok {
		return
	}
	codes, err := server.operators.ShortCodes(ginContext.Request.Context(), productID)
	if err != nil {
		server.logger.Error("short code listing failed", zap.Int64("product_id", productID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "listing failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"short_codes": codes})
}

type shortCodeRequest struct {
	Code string `json:"code"`
}

func (server *Server) handleAddShortCode(ginContext *gin.Context) {
	productID, ok := pathID(ginContext)
	if !ok {
		return
	}
	var request shortCodeRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	err := server.operators.AddShortCode(ginContext.Request.Context(), productID, request.Code)
	if errors.Is(err, inventory.ErrProductNotFound) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such product"))
		return
	}
	if errors.Is(err, admin.ErrInvalidInput) {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_input", err.Error()))
		return
	}
	if err != nil {
		server.logger.Error("short code creation failed", zap.Int64("product_id", productID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "creation failed"))
		return
	}
	ginContext.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

func (server *Server) handleRemoveShortCode(ginContext *gin.Context) {
	code := ginContext.Param("code")
	err := server.operators.RemoveShortCode(ginContext.Request.Context(), code)
	if errors.Is(err, admin.ErrInvalidInput) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such short code"))
		return
	}
	if err != nil {
		server.logger.Error("short code removal failed", zap.String("code", code), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "removal failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type stockUnitPayload struct {
	ID        int64             `json:"id"`
	ProductID int64             `json:"product_id"`
	Status    string            `json:"status"`
	Payload   map[string]string `json:"payload"`
	SoldTo    *int64            `json:"sold_to_account_id,omitempty"`
	SoldAt    *int64            `json:"sold_at_unix_utc,omitempty"`
}

func (server *Server) handleListStock(ginContext *gin.Context) {
	productID, ok := pathID(ginContext)
	if !ok {
		return
	}
	units, err := server.operators.StockUnits(ginContext.Request.Context(), productID)
	if err != nil {
		server.logger.Error("stock listing failed", zap.Int64("product_id", productID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "listing failed"))
		return
	}
	payloads := make([]stockUnitPayload, 0, len(units))
	for _, unit := range units {
		payloads = append(payloads, mapStockUnitPayload(unit))
	}
	ginContext.JSON(http.StatusOK, gin.H{"units": payloads})
}

type loadStockRequest struct {
	Records       []map[string]string `json:"records"`
	AutoDuplicate bool                `json:"auto_duplicate"`
}

// handleLoadStock bulk-loads units. With auto_duplicate each record is
// expanded by the product's retail multiplier.
func (server *Server) handleLoadStock(ginContext *gin.Context) {
	productID, ok := pathID(ginContext)
	if !ok {
		return
	}
	var request loadStockRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	duplicateFactor := 1
	if request.AutoDuplicate {
		products, err := server.operators.Products(ginContext.Request.Context(), true)
		if err != nil {
			server.logger.Error("product lookup failed", zap.Int64("product_id", productID), zap.Error(err))
			ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "load failed"))
			return
		}
		for _, product := range products {
			if product.ID == productID {
				duplicateFactor = product.RetailMultiplier
				break
			}
		}
	}
	records := make([]inventory.Payload, 0, len(request.Records))
	for _, record := range request.Records {
		records = append(records, inventory.Payload(record))
	}
	units, err := server.stock.BulkLoad(ginContext.Request.Context(), productID, records, duplicateFactor)
	if errors.Is(err, inventory.ErrInvalidPayload) {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
		return
	}
	if err != nil {
		server.logger.Error("stock load failed", zap.Int64("product_id", productID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "load failed"))
		return
	}
	payloads := make([]stockUnitPayload, 0, len(units))
	for _, unit := range units {
		payloads = append(payloads, mapStockUnitPayload(unit))
	}
	ginContext.JSON(http.StatusCreated, gin.H{"units": payloads})
}

func (server *Server) handleDeleteStockUnit(ginContext *gin.Context) {
	unitID, ok := pathID(ginContext)
	if !ok {
		return
	}
	err := server.operators.DeleteAvailableUnit(ginContext.Request.Context(), unitID)
	if errors.Is(err, inventory.ErrUnitNotFound) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such unit"))
		return
	}
	if errors.Is(err, inventory.ErrUnitNotReleasable) {
		ginContext.JSON(http.StatusConflict, errorResponse("conflict", "sold units cannot be deleted"))
		return
	}
	if err != nil {
		server.logger.Error("stock unit deletion failed", zap.Int64("unit_id", unitID), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "deletion failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func bindProductInput(ginContext *gin.Context) (admin.ProductInput, bool) {
	var request productRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return admin.ProductInput{}, false
	}
	active := true
	if request.Active != nil {
		active = *request.Active
	}
	multiplier := request.RetailMultiplier
	if multiplier == 0 {
		multiplier = 1
	}
	return admin.ProductInput{
		Name:             request.Name,
		Price:            wallet.Satang(request.PriceSatang),
		Description:      request.Description,
		Active:           active,
		MessageTemplate:  request.MessageTemplate,
		RetailMultiplier: multiplier,
		Category:         request.Category,
	}, true
}

func mapProductPayload(product inventory.Product) productPayload {
	return productPayload{
		ID:               product.ID,
		Name:             product.Name,
		PriceSatang:      int64(product.Price),
		Description:      product.Description,
		Stock:            product.Stock,
		Active:           product.Active,
		MessageTemplate:  product.MessageTemplate,
		RetailMultiplier: product.RetailMultiplier,
		Category:         product.Category,
	}
}

func mapStockUnitPayload(unit inventory.StockUnit) stockUnitPayload {
	return stockUnitPayload{
		ID:        unit.ID,
		ProductID: unit.ProductID,
		Status:    unit.Status.String(),
		Payload:   unit.Payload,
		SoldTo:    unit.SoldToAccount,
		SoldAt:    unit.SoldAtUnixUTC,
	}
}
