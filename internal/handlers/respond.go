package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/rs/zerolog/log"

	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
	"chat-backend/internal/services"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(wireName)
		_ = v.RegisterValidation("notblank", validators.NotBlank)
	}
}

// wireName reports struct fields by their json or form name.
func wireName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

// bindingFailed answers a request that could not be bound. Rule violations
// become a 422 listing every failing field, a malformed body is a 400.
func bindingFailed(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	fields := gin.H{}
	for _, fe := range verrs {
		list, _ := fields[fe.Field()].([]string)
		fields[fe.Field()] = append(list, ruleMessage(fe))
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"message": ruleMessage(verrs[0]),
		"errors":  fields,
	})
}

func ruleMessage(fe validator.FieldError) string {
	field := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("The %s field is required.", field)
	case "email":
		return fmt.Sprintf("The %s must be a valid email address.", field)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("The %s must have at least %s items.", field, fe.Param())
		}
		return fmt.Sprintf("The %s must be at least %s characters.", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("The %s may not have more than %s items.", field, fe.Param())
		}
		return fmt.Sprintf("The %s may not be greater than %s characters.", field, fe.Param())
	case "eqfield":
		return fmt.Sprintf("The %s does not match.", field)
	case "gt":
		return fmt.Sprintf("The %s must be greater than %s.", field, fe.Param())
	default:
		return fmt.Sprintf("The %s field is invalid.", field)
	}
}

// respondError maps service and repository errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		validationFailed(c, verr.Field, verr.Message)
	case errors.Is(err, models.ErrTargetMissing), errors.Is(err, models.ErrTargetAmbiguous):
		validationFailed(c, "receiver_id", err.Error())
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
	case errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrGroupNotFound),
		errors.Is(err, repositories.ErrUserNotFound),
		errors.Is(err, repositories.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	default:
		log.Error().Err(err).
			Str("route", c.FullPath()).
			Str("request_id", requestIDFromContext(c)).
			Int("user_id", userIDFromContext(c)).
			Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
	}
}

func validationFailed(c *gin.Context, field, message string) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"message": message,
		"errors":  gin.H{field: []string{message}},
	})
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid " + name})
		return 0, false
	}
	return id, true
}

// optionalInt parses an optional numeric form field. Empty means absent.
func optionalInt(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
