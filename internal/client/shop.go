package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"campuscoin/internal/apperr"
	"campuscoin/internal/pagination"
)

func (c *Client) Products(ctx context.Context, filter ProductFilter, p pagination.Params) (Page[Product], error) {
	q := url.Values{}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.InStock {
		q.Set("inStock", "true")
	}
	if filter.SellerID != "" {
		q.Set("sellerId", filter.SellerID)
	}
	return listPage[Product](ctx, c, request{method: http.MethodGet, path: "/products", query: q}, p)
}

// MyProducts lists the seller's own catalogue, inactive items included.
func (c *Client) MyProducts(ctx context.Context, p pagination.Params) (Page[Product], error) {
	return listPage[Product](ctx, c, request{method: http.MethodGet, path: "/products/mine", authed: true}, p)
}

func (c *Client) Product(ctx context.Context, id string) (Product, error) {
	var out Product
	err := c.call(ctx, request{method: http.MethodGet, path: "/products/" + escape(id)}, &out)
	return out, err
}

func productRequest(method, path string, in ProductInput) (request, error) {
	req := request{method: method, path: path, authed: true}
	if len(in.Image) == 0 {
		req.body = map[string]interface{}{
			"name":        in.Name,
			"description": in.Description,
			"price":       in.Price,
			"category":    in.Category,
			"stock":       in.Stock,
		}
		return req, nil
	}
	body, ctype, err := multipartBody(map[string]string{
		"name":        in.Name,
		"description": in.Description,
		"price":       in.Price,
		"category":    in.Category,
		"stock":       strconv.Itoa(in.Stock),
	}, []File{{Field: "image", Name: in.ImageName, Data: in.Image}})
	if err != nil {
		return req, apperr.Validation("image", "invalid_image", err.Error())
	}
	req.raw, req.ctype = body, ctype
	return req, nil
}

func (c *Client) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	var out Product
	if strings.TrimSpace(in.Name) == "" {
		return out, apperr.Validation("name", "invalid_name", "Product name is required")
	}
	req, err := productRequest(http.MethodPost, "/products", in)
	if err != nil {
		return out, err
	}
	err = c.call(ctx, req, &out)
	return out, err
}

func (c *Client) UpdateProduct(ctx context.Context, id string, in ProductInput) (Product, error) {
	var out Product
	req, err := productRequest(http.MethodPut, "/products/"+escape(id), in)
	if err != nil {
		return out, err
	}
	err = c.call(ctx, req, &out)
	return out, err
}

func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.call(ctx, request{method: http.MethodDelete, path: "/products/" + escape(id), authed: true}, nil)
}

// ProductImage downloads the original image, or the thumbnail.
func (c *Client) ProductImage(ctx context.Context, id string, thumbnail bool) (Blob, error) {
	var q url.Values
	if thumbnail {
		q = url.Values{"size": {"thumbnail"}}
	}
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/products/" + escape(id) + "/image", query: q})
	if err != nil {
		return Blob{}, err
	}
	return Blob{ContentType: resp.header.Get("Content-Type"), Data: resp.body}, nil
}

// CreateOrder reserves stock. The order stays pending until paid with
// SendEth.
func (c *Client) CreateOrder(ctx context.Context, productID string, quantity int) (Order, error) {
	var out Order
	if quantity < 0 {
		return out, apperr.Validation("quantity", "invalid_quantity", "Quantity must be positive")
	}
	if quantity == 0 {
		quantity = 1
	}
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/orders",
		body:   map[string]interface{}{"productId": productID, "quantity": quantity},
		authed: true,
	}, &out)
	return out, err
}

func orderQuery(status string) url.Values {
	if status == "" {
		return nil
	}
	return url.Values{"status": {status}}
}

func (c *Client) UserOrders(ctx context.Context, status string, p pagination.Params) (Page[Order], error) {
	return listPage[Order](ctx, c, request{method: http.MethodGet, path: "/orders/mine", query: orderQuery(status), authed: true}, p)
}

// AllOrders lists every order for staff, or the caller's sales for sellers.
func (c *Client) AllOrders(ctx context.Context, status string, p pagination.Params) (Page[Order], error) {
	return listPage[Order](ctx, c, request{method: http.MethodGet, path: "/orders", query: orderQuery(status), authed: true}, p)
}

func (c *Client) CancelOrder(ctx context.Context, id string) (Order, error) {
	var out Order
	err := c.call(ctx, request{method: http.MethodPost, path: "/orders/" + escape(id) + "/cancel", authed: true}, &out)
	return out, err
}

func (c *Client) Receipt(ctx context.Context, orderID string) (Blob, error) {
	return c.download(ctx, "/orders/"+escape(orderID)+"/receipt", nil)
}

func (c *Client) DashboardStats(ctx context.Context) (DashboardStats, error) {
	var out DashboardStats
	err := c.call(ctx, request{method: http.MethodGet, path: "/admin/dashboard", authed: true}, &out)
	return out, err
}
