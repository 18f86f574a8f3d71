package http

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"campuscoin/internal/apperr"
	"campuscoin/internal/db"
	"campuscoin/internal/logger"
	"campuscoin/internal/media"
	"campuscoin/internal/pagination"
	"campuscoin/internal/storage"
	"campuscoin/internal/validate"
	"campuscoin/internal/wallet"
)

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Category    string `json:"category"`
	Stock       int    `json:"stock"`
}

func (req productRequest) params(id, sellerID string) (db.ProductParams, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return db.ProductParams{}, apperr.Validation("name", "invalid_name", "Product name is required")
	}
	price, err := validate.Amount(req.Price)
	if err != nil {
		return db.ProductParams{}, apperr.Validation("price", "invalid_price", "Price must be a positive number")
	}
	if req.Stock < 0 {
		return db.ProductParams{}, apperr.Validation("stock", "invalid_stock", "Stock cannot be negative")
	}
	return db.ProductParams{
		ID:          id,
		SellerID:    sellerID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Price:       wallet.Normalize(price),
		Category:    strings.TrimSpace(req.Category),
		Stock:       req.Stock,
	}, nil
}

// readProductRequest accepts JSON or a multipart form with an optional
// "image" file.
func (s *Server) readProductRequest(w http.ResponseWriter, r *http.Request) (productRequest, []byte, error) {
	var req productRequest
	if !isMultipart(r) {
		if err := decodeJSON(r, &req); err != nil {
			return req, nil, apperr.Validation("", "invalid_request", "Invalid request body")
		}
		return req, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return req, nil, apperr.Validation("", "invalid_request", "Invalid multipart form")
	}
	req = productRequest{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Price:       r.FormValue("price"),
		Category:    r.FormValue("category"),
	}
	if raw := strings.TrimSpace(r.FormValue("stock")); raw != "" {
		stock, err := strconv.Atoi(raw)
		if err != nil {
			return req, nil, apperr.Validation("stock", "invalid_stock", "Stock must be a whole number")
		}
		req.Stock = stock
	}

	file, _, err := r.FormFile("image")
	if err == http.ErrMissingFile {
		return req, nil, nil
	}
	if err != nil {
		return req, nil, apperr.Validation("image", "invalid_image", "Could not read image")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return req, nil, apperr.Validation("image", "invalid_image", "Could not read image")
	}
	return req, data, nil
}

// storeImage writes the original and its thumbnail and returns their keys.
func (s *Server) storeImage(ctx context.Context, productID string, data []byte) (*string, *string, error) {
	contentType, err := media.ContentType(data)
	if err != nil {
		return nil, nil, apperr.Validation("image", "unsupported_image", "Image must be JPEG, PNG or GIF")
	}
	thumb, err := media.Thumbnail(data, media.ThumbnailWidth)
	if err != nil {
		return nil, nil, apperr.Validation("image", "invalid_image", "Image could not be decoded")
	}
	if s.files == nil {
		return nil, nil, apperr.Server("storage_not_configured", nil)
	}

	version := uuid.NewString()
	imageKey := "products/" + productID + "/" + version
	thumbKey := imageKey + "-thumb"
	if err := s.files.Put(ctx, storage.Object{Key: imageKey, ContentType: contentType, Data: data}); err != nil {
		return nil, nil, err
	}
	if err := s.files.Put(ctx, storage.Object{Key: thumbKey, ContentType: "image/jpeg", Data: thumb}); err != nil {
		_ = s.files.Delete(ctx, imageKey)
		return nil, nil, err
	}
	return &imageKey, &thumbKey, nil
}

func (s *Server) dropImages(ctx context.Context, keys ...*string) {
	for _, key := range keys {
		if key == nil || s.files == nil {
			continue
		}
		if err := s.files.Delete(ctx, *key); err != nil {
			logger.FromContext(ctx).WithError(err).WithField("key", *key).Warn("orphaned product image")
		}
	}
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r, pagination.DefaultLimit)
	query := r.URL.Query()
	filter := db.ProductFilter{
		Category: query.Get("category"),
		Search:   strings.TrimSpace(query.Get("search")),
		InStock:  query.Get("inStock") == "true",
	}
	if seller := query.Get("sellerId"); seller != "" {
		if _, err := uuid.Parse(seller); err == nil {
			filter.SellerID = seller
		}
	}
	s.writeProducts(w, r, filter, page)
}

func (s *Server) handleListMyProducts(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	page := pagination.FromRequest(r, pagination.DefaultLimit)
	s.writeProducts(w, r, db.ProductFilter{SellerID: claims.UserID}, page)
}

func (s *Server) writeProducts(w http.ResponseWriter, r *http.Request, filter db.ProductFilter, page pagination.Params) {
	list, total, err := s.store.Queries.ListProducts(r.Context(), filter, page.Limit, page.Offset())
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}
	out := make([]productView, 0, len(list))
	for _, p := range list {
		out = append(out, mapProduct(p))
	}
	writePage(w, out, pagination.New(page, total))
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	p, err := s.store.Queries.GetProduct(r.Context(), id)
	if err != nil || !p.Active {
		if err == nil || db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, mapProduct(p))
}

func (s *Server) handleProductImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	p, err := s.store.Queries.GetProduct(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	key := p.ImageKey
	if r.URL.Query().Get("size") == "thumbnail" {
		key = p.ThumbnailKey
	}
	if key == nil || s.files == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	obj, err := s.files.Get(r.Context(), *key)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.writeServerError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	writeFile(w, obj.ContentType, "", obj.Data)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)
	req, image, err := s.readProductRequest(w, r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	params, err := req.params(uuid.NewString(), claims.UserID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	var imageKey, thumbKey *string
	if len(image) > 0 {
		if imageKey, thumbKey, err = s.storeImage(ctx, params.ID, image); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}

	var product db.Product
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		if _, err := q.CreateProduct(ctx, params); err != nil {
			return err
		}
		if imageKey != nil {
			if err := q.SetProductImage(ctx, params.ID, imageKey, thumbKey); err != nil {
				return err
			}
		}
		product, err = q.GetProduct(ctx, params.ID)
		return err
	})
	if err != nil {
		s.dropImages(ctx, imageKey, thumbKey)
		s.writeServerError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, mapProduct(product))
}

// ownedProduct loads an active product the caller may change. Sellers may
// only touch their own products.
func ownedProduct(ctx context.Context, q *db.Queries, id string) (db.Product, error) {
	claims := claimsFromContext(ctx)
	p, err := q.GetProductForUpdate(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return db.Product{}, apperr.NotFound("not_found")
		}
		return db.Product{}, err
	}
	if !p.Active {
		return db.Product{}, apperr.NotFound("not_found")
	}
	if claims.UserType == validate.RoleSeller && p.SellerID != claims.UserID {
		return db.Product{}, apperr.Forbidden("not_product_owner")
	}
	return p, nil
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ctx := r.Context()
	req, image, err := s.readProductRequest(w, r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	var imageKey, thumbKey, oldImage, oldThumb *string
	if len(image) > 0 {
		if imageKey, thumbKey, err = s.storeImage(ctx, id, image); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}

	var product db.Product
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		current, err := ownedProduct(ctx, q, id)
		if err != nil {
			return err
		}
		params, err := req.params(id, current.SellerID)
		if err != nil {
			return err
		}
		if _, err := q.UpdateProduct(ctx, params); err != nil {
			return err
		}
		if imageKey != nil {
			oldImage, oldThumb = current.ImageKey, current.ThumbnailKey
			if err := q.SetProductImage(ctx, id, imageKey, thumbKey); err != nil {
				return err
			}
		}
		product, err = q.GetProduct(ctx, id)
		return err
	})
	if err != nil {
		s.dropImages(ctx, imageKey, thumbKey)
		s.writeAppError(w, r, err)
		return
	}
	s.dropImages(ctx, oldImage, oldThumb)
	writeData(w, http.StatusOK, mapProduct(product))
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	ctx := r.Context()
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		if _, err := ownedProduct(ctx, q, id); err != nil {
			return err
		}
		_, err := q.DeactivateProduct(ctx, id)
		return err
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}

// orderTotal prices quantity units of p.
func orderTotal(p db.Product, quantity int) decimal.Decimal {
	return wallet.Normalize(p.Price.Mul(decimal.NewFromInt(int64(quantity))))
}
