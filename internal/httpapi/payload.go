package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/bluquist/bluquist"
	"github.com/go-playground/validator/v10"
)

const maxPayloadBytes = 1 << 20

type registerRequest struct {
	Mail      string  `json:"mail" validate:"required,email"`
	Password  *string `json:"password" validate:"required"`
	FirstName string  `json:"firstName" validate:"max=100"`
	LastName  string  `json:"lastName" validate:"max=100"`
	Role      string  `json:"role"`
}

type loginRequest struct {
	Mail     string  `json:"mail" validate:"required,email"`
	Password *string `json:"password" validate:"required"`
}

type serviceLoginRequest struct {
	Assertion string `json:"assertion" validate:"required"`
}

type updateRequest struct {
	FirstName *string `json:"firstName" validate:"omitempty,max=100"`
	LastName  *string `json:"lastName" validate:"omitempty,max=100"`
	Password  *string `json:"password"`
	Role      *string `json:"role"`
}

type teamRegisterRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type teamRenameRequest struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required,max=100"`
}

type teamDeleteRequest struct {
	ID string `json:"id" validate:"required"`
}

type memberAddRequest struct {
	TeamID string `json:"teamId" validate:"required"`
	Mail   string `json:"mail" validate:"required,email"`
}

type memberRemoveRequest struct {
	TeamID string `json:"teamId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type memberRoleRequest struct {
	TeamID string `json:"teamId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=user admin"`
}

type revokeRequest struct {
	Token string `json:"token" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON object into dst and validates it. A missing or
// non-JSON body is ErrNoJSONPayload; anything that fails to parse or
// validate is ErrMalformedPayload with a description.
func (s *Server) decode(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			return bluquist.ErrNoJSONPayload
		}
	}
	if r.Body == nil {
		return bluquist.ErrNoJSONPayload
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxPayloadBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return bluquist.ErrNoJSONPayload
		}
		return bluquist.MalformedPayload(err.Error())
	}

	if err := s.validate.Struct(dst); err != nil {
		return bluquist.MalformedPayload(describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	// The first failure is enough for the client to act on.
	e := verrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is a required property", e.Field())
	case "email":
		return fmt.Sprintf("'%v' is not a 'email'", e.Value())
	case "oneof":
		return fmt.Sprintf("'%v' is not one of [%s]", e.Value(), strings.ReplaceAll(e.Param(), " ", ", "))
	case "max":
		return fmt.Sprintf("'%s' is too long", e.Field())
	default:
		return fmt.Sprintf("'%s' failed %s", e.Field(), e.Tag())
	}
}
