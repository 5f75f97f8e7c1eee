package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/p-n-ai/pai-learn/internal/progression"
)

const maxBodyBytes = 1 << 20

type watchRequest struct {
	WatchPercentage  *float64 `json:"watch_percentage" validate:"required,gte=0,lte=100"`
	WatchTimeSeconds int      `json:"watch_time_seconds" validate:"gte=0"`
}

type answerRequest struct {
	QuestionID        string   `json:"question_id" validate:"required"`
	OptionIDs         []string `json:"option_ids" validate:"dive,required"`
	AnsweredAtSeconds *int     `json:"answered_at_seconds" validate:"omitempty,gte=0"`
}

type submitRequest struct {
	Answers        []answerRequest `json:"answers" validate:"dive"`
	ElapsedSeconds int             `json:"elapsed_seconds" validate:"gte=0"`
}

func (s submitRequest) toAnswers() []progression.Answer {
	out := make([]progression.Answer, 0, len(s.Answers))
	for _, a := range s.Answers {
		out = append(out, progression.Answer{
			QuestionID:        a.QuestionID,
			OptionIDs:         a.OptionIDs,
			AnsweredAtSeconds: a.AnsweredAtSeconds,
		})
	}
	return out
}

// heartbeatFrame is one message from the player: either a watch position or
// a resource access.
type heartbeatFrame struct {
	WatchPercentage  *float64 `json:"watch_percentage" validate:"required_without=ResourceAccessed,omitempty,gte=0,lte=100"`
	WatchTimeSeconds int      `json:"watch_time_seconds" validate:"gte=0"`
	ResourceAccessed bool     `json:"resource_accessed"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// invalidInput converts a decode or validation failure into an engine
// validation error so it maps to 400.
func invalidInput(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		err = errors.New(strings.Join(fields, "; "))
	}
	return &progression.Error{
		Kind:    progression.KindValidation,
		Code:    progression.ErrInvalidInput.Code,
		Message: err.Error(),
	}
}

// decodeAndValidate reads a JSON body into dst and validates it.
func (h *handler) decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidInput(fmt.Errorf("decode body: %w", err))
	}
	if err := h.validate.Struct(dst); err != nil {
		return invalidInput(err)
	}
	return nil
}
