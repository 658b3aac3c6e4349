package http

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const chatModelTag = "chatmodel"

// ModelAllowList indica si un identificador de modelo puede pedirse desde el cliente.
type ModelAllowList interface {
	Allowed(model string) bool
}

// RegisterChatValidators agrega el tag chatmodel al validador de gin.
func RegisterChatValidators(models ModelAllowList) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected binding validator engine")
	}
	return v.RegisterValidation(chatModelTag, func(fl validator.FieldLevel) bool {
		model := strings.TrimSpace(fl.Field().String())
		return model == "" || models.Allowed(model)
	})
}
