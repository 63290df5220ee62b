// Package validation reports every problem in a manifest document at once.
//
// models.Manifest.Validate stops at the first broken invariant, which is what
// loading wants. Editors and the API want the full list, so this package
// checks the same rules and collects field-level errors. It uses:
//   - go-playground/validator for struct tag constraints
//   - distribution/reference for image reference syntax
//
// # Usage Example
//
//	v := validation.New()
//	result, err := v.ValidateManifest(data, manifest.FormatJSON)
//	if err != nil {
//	    // Handle error
//	}
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        fmt.Printf("%s: %s\n", e.Field, e.Message)
//	    }
//	}
package validation

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"evalgo.org/anchor/internal/manifest"
	"evalgo.org/anchor/models"
	"github.com/distribution/reference"
	"github.com/go-playground/validator/v10"
)

// containerName matches names the container engine accepts.
var containerName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Validator checks manifest documents.
type Validator struct {
	// structValidator validates Go struct constraints and tags
	structValidator *validator.Validate
}

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the path of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new Validator. Struct errors are reported with JSON field names.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return &Validator{structValidator: v}
}

// ValidateManifest decodes data and validates it. A document that cannot be
// decoded is reported as a single "document" error.
func (v *Validator) ValidateManifest(data []byte, format manifest.Format) (*ValidationResult, error) {
	m, err := manifest.Decode(data, format)
	if err != nil {
		var manifestErr *models.ManifestError
		if !errors.As(err, &manifestErr) {
			return nil, err
		}
		return &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "document", Message: manifestErr.Message}},
		}, nil
	}
	return v.Validate(m), nil
}

// Validate checks every container of m and the cross-container invariants.
func (v *Validator) Validate(m *models.Manifest) *ValidationResult {
	var errs []ValidationError

	names := m.Names()
	owners := make(map[uint16]string)
	for _, name := range names {
		spec := m.Containers[name]
		errs = append(errs, v.ValidateSpec(name, spec)...)

		for i, p := range spec.PortMappings {
			if p.HostPort == 0 {
				continue
			}
			if owner, taken := owners[p.HostPort]; taken {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("containers.%s.port_mappings[%d]", name, i),
					Message: fmt.Sprintf("host port %d is already used by container '%s'", p.HostPort, owner),
					Value:   p.HostPort,
				})
				continue
			}
			owners[p.HostPort] = name
		}
	}

	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateSpec checks one container entry.
func (v *Validator) ValidateSpec(name string, spec models.ContainerSpec) []ValidationError {
	var errs []ValidationError
	prefix := "containers." + name

	if name == "" {
		errs = append(errs, ValidationError{Field: "containers", Message: "Container name is required"})
	} else if !containerName.MatchString(name) {
		errs = append(errs, ValidationError{
			Field:   prefix,
			Message: "Container name may only contain letters, digits, '_', '.' and '-'",
			Value:   name,
		})
	}

	if err := v.structValidator.Struct(spec); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{
					Field:   prefix + "." + trimRoot(fe.Namespace()),
					Message: tagMessage(fe),
					Value:   fe.Value(),
				})
			}
		}
	}

	if spec.URI != "" {
		if _, err := reference.ParseNormalizedNamed(spec.URI); err != nil {
			errs = append(errs, ValidationError{
				Field:   prefix + ".uri",
				Message: fmt.Sprintf("Invalid image reference: %v", err),
				Value:   spec.URI,
			})
		}
	}

	if spec.Command != "" && !spec.Command.Valid() {
		errs = append(errs, ValidationError{
			Field:   prefix + ".command",
			Message: "Command must be one of: " + strings.Join(commandNames(), ", "),
			Value:   spec.Command,
		})
	}

	for i, mount := range spec.Mounts {
		if err := mount.Validate(); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.mounts[%d]", prefix, i),
				Message: err.Error(),
				Value:   mount.String(),
			})
		}
	}

	for _, key := range slices.Sorted(maps.Keys(spec.Env)) {
		if strings.ContainsAny(key, "= ") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.env.%s", prefix, key),
				Message: "Environment variable names may not contain '=' or spaces",
				Value:   key,
			})
		}
	}

	return errs
}

func trimRoot(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed the '%s' constraint", fe.Field(), fe.Tag())
	}
}

func commandNames() []string {
	out := make([]string, 0, len(models.Commands))
	for _, c := range models.Commands {
		out = append(out, string(c))
	}
	return out
}
