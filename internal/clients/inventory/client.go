// Package inventory adjusts stock through the inventory service REST API.
package inventory

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/clients"
	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/lock"
)

const (
	dependency = "inventory"
	maxBody    = 4 << 20
)

// errStale marks a 404 for an item ID that used to exist.
var errStale = errors.New("inventory item not found")

var _ order.Inventory = (*Client)(nil)

// Item is an inventory record as served by the inventory service.
type Item struct {
	ID  int64
	SKU string
	Qty int
}

// Client implements order.Inventory. Items are addressed by numeric ID;
// SKUs are resolved through the item list and cached.
//
// The inventory API only offers absolute writes, so each Adjust holds the
// SKU lock between reading and writing the quantity. Replicas must share
// the locker (lock.Redis) for adjustments to stay atomic across them.
type Client struct {
	http   *http.Client
	cfg    clients.Config
	cache  Cache
	locker order.Locker
	lg     *zap.Logger
}

// New returns an inventory Client. A nil cache disables SKU caching, a nil
// locker serializes adjustments within this process only.
func New(httpClient *http.Client, cfg clients.Config, cache Cache, locker order.Locker, lg *zap.Logger) *Client {
	if cache == nil {
		cache = NopCache{}
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Client{http: httpClient, cfg: cfg.Normalize(), cache: cache, locker: locker, lg: lg}
}

// Adjust reads the current quantity of sku and writes qty+delta under the
// SKU lock. Unknown SKUs and negative results yield
// *order.InsufficientStockError. Waiting for the lock counts against the
// call timeout.
func (c *Client) Adjust(ctx context.Context, sku string, delta int) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	unlock, err := c.locker.Lock(ctx, sku)
	if err != nil {
		return clients.Unavailable(dependency, errors.Wrapf(err, "lock sku %q", sku))
	}
	defer unlock()

	id, cached, err := c.resolve(ctx, sku)
	if err != nil {
		return err
	}
	if id == 0 {
		return unknownSKU(sku, delta)
	}

	item, err := c.get(ctx, id)
	if errors.Is(err, errStale) && cached {
		c.evict(ctx, sku)
		if id, err = c.lookup(ctx, sku); err != nil {
			return err
		}
		if id == 0 {
			return unknownSKU(sku, delta)
		}
		item, err = c.get(ctx, id)
	}
	if errors.Is(err, errStale) {
		return unknownSKU(sku, delta)
	}
	if err != nil {
		return err
	}

	next := item.Qty + delta
	if next < 0 {
		return &order.InsufficientStockError{SKU: sku, Requested: -delta, Available: item.Qty}
	}
	return c.put(ctx, id, next)
}

func unknownSKU(sku string, delta int) error {
	if delta < 0 {
		delta = -delta
	}
	return &order.InsufficientStockError{SKU: sku, Requested: delta, Available: 0}
}

// resolve returns the item ID for sku, zero when unknown. cached reports
// whether the ID came from the cache.
func (c *Client) resolve(ctx context.Context, sku string) (id int64, cached bool, err error) {
	id, ok, err := c.cache.Get(ctx, sku)
	if err != nil {
		c.lg.Warn("SKU cache read failed", zap.String("sku", sku), zap.Error(err))
	}
	if ok {
		return id, true, nil
	}
	id, err = c.lookup(ctx, sku)
	return id, false, err
}

// lookup scans the item list for sku and caches every mapping it sees.
func (c *Client) lookup(ctx context.Context, sku string) (int64, error) {
	items, err := c.List(ctx)
	if err != nil {
		return 0, err
	}
	var (
		found   int64
		caching = true
	)
	for _, it := range items {
		if it.SKU == sku {
			found = it.ID
		}
		if !caching {
			continue
		}
		if err := c.cache.Set(ctx, it.SKU, it.ID); err != nil {
			c.lg.Warn("SKU cache write failed", zap.String("sku", it.SKU), zap.Error(err))
			caching = false
		}
	}
	return found, nil
}

func (c *Client) evict(ctx context.Context, sku string) {
	if err := c.cache.Delete(ctx, sku); err != nil {
		c.lg.Warn("SKU cache evict failed", zap.String("sku", sku), zap.Error(err))
	}
}

// List returns every inventory item.
func (c *Client) List(ctx context.Context) ([]Item, error) {
	data, err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/", nil)
	if err != nil {
		return nil, err
	}

	var items []Item
	if err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		it, err := decodeItem(d)
		if err != nil {
			return err
		}
		items = append(items, it)
		return nil
	}); err != nil {
		return nil, clients.Unavailable(dependency, errors.Wrap(err, "decode items"))
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, id int64) (Item, error) {
	data, err := c.do(ctx, http.MethodGet, c.itemURL(id), nil)
	if err != nil {
		return Item{}, err
	}
	it, err := decodeItem(jx.DecodeBytes(data))
	if err != nil {
		return Item{}, clients.Unavailable(dependency, errors.Wrap(err, "decode item"))
	}
	return it, nil
}

func (c *Client) put(ctx context.Context, id int64, qty int) error {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("qty")
	e.Int(qty)
	e.ObjEnd()

	_, err := c.do(ctx, http.MethodPut, c.itemURL(id), e.Bytes())
	if errors.Is(err, errStale) {
		return clients.Unavailable(dependency, err)
	}
	return err
}

func (c *Client) itemURL(id int64) string {
	return fmt.Sprintf("%s/%d", c.cfg.BaseURL, id)
}

// do performs one request and returns the body of a 2xx answer. 404 maps
// to errStale, other failures to an unavailable dependency.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	req, err := clients.NewRequest(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, clients.Unavailable(dependency, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, clients.Unavailable(dependency, errors.Wrap(err, "read body"))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errStale
	default:
		return nil, clients.Unavailable(dependency, &clients.StatusError{Method: method, URL: url, Code: resp.StatusCode})
	}
}

func decodeItem(d *jx.Decoder) (Item, error) {
	var it Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			it.ID, err = d.Int64()
		case "sku":
			it.SKU, err = d.Str()
		case "qty":
			it.Qty, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return it, err
}
