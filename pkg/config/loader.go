package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// Loader parses preferences files against the embedded schema.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader compiles the client schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	compiled := ctx.CompileString(clientSchema, cue.Filename("schema.cue"))
	if err := compiled.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile client schema: %w", err)
	}
	schema := compiled.LookupPath(cue.ParsePath("#Client"))
	if !schema.Exists() {
		return nil, errors.New("client schema has no #Client definition")
	}
	return &Loader{
		ctx:       ctx,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// Load reads the preferences file at path. An empty path reads DefaultPath
// and falls back to the defaults when that file does not exist.
func (l *Loader) Load(path string) (*Client, error) {
	optional := path == ""
	if optional {
		path = DefaultPath
	}

	src, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return l.Defaults()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(path, src)
}

// Defaults returns the configuration of an empty preferences file.
func (l *Loader) Defaults() (*Client, error) {
	return l.Parse("defaults.cue", nil)
}

// Parse unifies src with the schema and decodes the result.
func (l *Loader) Parse(filename string, src []byte) (*Client, error) {
	val := l.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	var c Client
	if err := unified.Decode(&c); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	if err := l.validator.Struct(&c); err != nil {
		return nil, &LoadError{Errors: convertValidatorErrors(filename, err)}
	}
	return &c, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func convertValidatorErrors(filename string, err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{File: filename, Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			File:    filename,
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed on the %q rule", fe.Tag()),
		})
	}
	return out
}
