package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/order"
	"github.com/xenking/giftshop/pkg/httpmiddleware"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Code       string            `json:"code"`
	Reason     string            `json:"reason,omitempty"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	PaymentRef string            `json:"payment_ref,omitempty"`
	OrderID    string            `json:"order_id,omitempty"`
	Retryable  bool              `json:"retryable,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
}

// decodeJSON decodes a JSON body into dst. Unknown fields are rejected.
func decodeJSON(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid request body")
	}
	return nil
}

// decodeBody decodes a JSON body into dst and runs its validate tags.
func decodeBody(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve))
			for _, fe := range ve {
				fields[fe.Field()] = fe.Tag()
			}
			return apperr.New(apperr.CodeValidation, "validation failed").WithFields(fields)
		}
		return apperr.Wrap(apperr.CodeValidation, err, "validation failed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status and error body. Errors without a code are
// logged and reported as INTERNAL_ERROR without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())

	var resp errorResponse
	typed := apperr.As(err)
	if typed == nil {
		lg.Error("Request failed", zap.Error(err))
		typed = apperr.New(apperr.CodeInternal, "internal error")
	}
	meta := apperr.MetadataFor(typed.Code())
	resp.Code = string(typed.Code())
	resp.Reason = typed.Reason()
	resp.Message = typed.Message()
	resp.Fields = typed.Fields()
	resp.Retryable = meta.Retryable
	resp.RequestID = httpmiddleware.RequestIDFromContext(r.Context())

	var captured *order.CapturedPaymentError
	if errors.As(err, &captured) {
		resp.PaymentRef = captured.PaymentRef
		resp.OrderID = captured.OrderID
	}

	if meta.HTTPStatus >= http.StatusInternalServerError && typed.Code() != apperr.CodeInternal {
		lg.Warn("Request failed", zap.String("code", resp.Code), zap.Error(err))
	}
	writeJSON(w, meta.HTTPStatus, resp)
}
