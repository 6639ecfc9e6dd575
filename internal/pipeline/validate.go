package pipeline

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mindtune/api/internal/model"
)

// RegisterValidations installs the cross-field guideline rules on v
func RegisterValidations(v *validator.Validate) {
	v.RegisterStructValidation(guidelineStructLevel, model.Guideline{})
	v.RegisterStructValidation(requestStructLevel, model.GenerationRequest{})
}

// requestStructLevel rejects render constraints that contradict the guideline
func requestStructLevel(sl validator.StructLevel) {
	r := sl.Current().Interface().(model.GenerationRequest)

	ms := r.RenderConstraints.DurationMs
	if r.Guideline.DurationSec > 0 && ms > 0 && ms != r.Guideline.DurationSec*1000 {
		sl.ReportError(ms, "RenderConstraints.DurationMs", "RenderConstraints.DurationMs", "duration_mismatch", "")
	}
	if !r.Guideline.VocalsAllowed && !r.RenderConstraints.ForceInstrumental {
		sl.ReportError(r.RenderConstraints.ForceInstrumental, "RenderConstraints.ForceInstrumental", "RenderConstraints.ForceInstrumental", "vocals_forbidden", "")
	}
}

func guidelineStructLevel(sl validator.StructLevel) {
	g := sl.Current().Interface().(model.Guideline)

	if overlap(g.PreferredGenres, g.DislikedGenres) {
		sl.ReportError(g.DislikedGenres, "contraindications", "DislikedGenres", "disjoint_genres", "")
	}
	if overlap(g.IncludeInstruments, g.ExcludeInstruments) {
		sl.ReportError(g.ExcludeInstruments, "excludeInstruments", "ExcludeInstruments", "disjoint_instruments", "")
	}
	if g.Tempo != nil && g.Tempo.Min > g.Tempo.Max {
		sl.ReportError(g.Tempo.Max, "bpm", "Tempo", "bpm_order", "")
	}
}

// overlap compares case-insensitively, ignoring surrounding space
func overlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[normalize(s)] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[normalize(s)]; ok {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validateRequest checks req without touching any collaborator
func validateRequest(v *validator.Validate, req *model.GenerationRequest) *GenerationError {
	if err := v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return invalidRequest(summarize(verrs), FormatValidationErrors(verrs))
		}
		return invalidRequest(err.Error(), nil)
	}
	if strings.TrimSpace(req.Caller.UserID) == "" {
		return invalidRequest("caller identity is required", nil)
	}
	return nil
}

// FormatValidationErrors maps each failing field to its rule
func FormatValidationErrors(verrs validator.ValidationErrors) map[string]string {
	errs := make(map[string]string, len(verrs))
	for _, e := range verrs {
		errs[e.Namespace()] = e.Tag()
	}
	return errs
}

func summarize(verrs validator.ValidationErrors) string {
	for _, e := range verrs {
		switch e.Tag() {
		case "disjoint_genres":
			return "preferred and contraindicated genres overlap"
		case "disjoint_instruments":
			return "included and excluded instruments overlap"
		case "bpm_order":
			return "bpm range minimum exceeds maximum"
		case "duration_mismatch":
			return "render duration contradicts guideline duration"
		case "vocals_forbidden":
			return "guideline forbids vocals but render allows them"
		}
	}
	return "request validation failed"
}
