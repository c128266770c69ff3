package network

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

var validate = validator.New()

// tokenResponse is the shape of login and refresh responses.
type tokenResponse struct {
	AccessToken  string `validate:"required"`
	RefreshToken string
}

// uploadStartResponse is the shape of the chunked upload start response.
type uploadStartResponse struct {
	ID string `json:"id" validate:"required"`
}

// validateSchema runs struct validation and wraps failures in ErrValidation.
func validateSchema(endpoint string, v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: invalid %s response: %s", ErrValidation, endpoint, err.Error())
	}

	return nil
}

// stringField reads an optional string field. A present non-string value is
// a schema violation.
func stringField(resp *Response, key string) (string, error) {
	v := resp.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return "", nil
	}

	if v.Type != gjson.String {
		return "", validationErrorf("invalid %s response, field %q is %s, want string", resp.Endpoint, key, v.Type)
	}

	return v.Str, nil
}

// parseTokenResponse extracts and validates the token fields of resp.
func parseTokenResponse(resp *Response, accessKey, refreshKey string) (tokenResponse, error) {
	var (
		tr  tokenResponse
		err error
	)

	if tr.AccessToken, err = stringField(resp, accessKey); err != nil {
		return tr, err
	}

	if tr.RefreshToken, err = stringField(resp, refreshKey); err != nil {
		return tr, err
	}

	return tr, validateSchema(resp.Endpoint, tr)
}
