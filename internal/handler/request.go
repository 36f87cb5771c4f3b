package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/orderjson"
)

func malformed(err error) error {
	return &order.ValidationError{Field: "body", Rule: "json", Message: err.Error()}
}

// readBody decodes the top-level object of the request body, calling field
// for every key. Anything but whitespace after the object is rejected.
func readBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return malformed(errors.Wrap(err, "read body"))
	}
	if len(data) > maxBodySize {
		return &order.ValidationError{Field: "body", Rule: "size", Message: "request body too large"}
	}
	d := jx.DecodeBytes(data)
	if err := d.Obj(field); err != nil {
		return malformed(err)
	}
	if err := d.Skip(); !errors.Is(err, io.EOF) {
		return malformed(errors.New("unexpected data after object"))
	}
	return nil
}

func readTotal(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	total, err := orderjson.Decimal(d)
	if err != nil {
		return nil, errors.Wrap(err, "total")
	}
	return &total, nil
}

func decodeCreate(r *http.Request) (order.CreateRequest, error) {
	var req order.CreateRequest
	err := readBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			req.ID, err = d.Str()
		case "user_id":
			req.UserID, err = d.Int64()
		case "items":
			req.Items, err = orderjson.Items(d)
		case "total":
			req.Total, err = readTotal(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return req, err
}

func decodeUpdate(r *http.Request) (order.UpdateRequest, error) {
	var req order.UpdateRequest
	err := readBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = orderjson.Items(d)
		case "total":
			req.Total, err = readTotal(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return req, err
}

// decodeStatus reads {"status": "..."}. The value is normalized but not
// checked against the known statuses.
func decodeStatus(r *http.Request) (order.Status, error) {
	var raw string
	err := readBody(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return errors.Wrap(err, key)
		}
		raw = s
		return nil
	})
	if err != nil {
		return "", err
	}
	status := order.Status(strings.ToLower(strings.TrimSpace(raw)))
	if status == "" {
		return "", &order.ValidationError{Field: "status", Rule: "required", Message: "must not be empty"}
	}
	return status, nil
}
