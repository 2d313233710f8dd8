package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

var permissionCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"AllAccessDisabled":           true,
	"AuthorizationError":          true,
	"Forbidden":                   true,
	"InvalidAccessKeyId":          true,
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"UnauthorizedOperation":       true,
	"UnrecognizedClientException": true,
}

var throttleCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"SlowDown":                               true,
	"RequestThrottled":                       true,
	"ProvisionedThroughputExceededException": true,
}

// Classify maps an infrastructure error into the taxonomy: permission
// failures become PERMISSION errors, everything else (timeouts, throttling,
// 5xx, network) becomes TRANSIENT. Errors already classified are returned
// unchanged. op names the failed operation in the message.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(CodeTimeout, op+" timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewTransientError(CodeCanceled, op+" canceled", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case permissionCodes[code]:
			return NewPermissionError(op+" denied", err)
		case throttleCodes[code]:
			return NewTransientError(CodeThrottled, op+" throttled", err)
		}
	}

	var httpErr *smithyhttp.ResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusForbidden {
		return NewPermissionError(op+" denied", err)
	}

	return NewTransientError(CodeUnavailable, op+" failed", err)
}
