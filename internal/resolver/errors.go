// internal/resolver/errors.go
package resolver

import (
	"fmt"

	"github.com/sua-org/cam-gateway/internal/core"
)

var ErrResolverNotFound = fmt.Errorf("%w: no resolver registered for this manufacturer/model", core.ErrConfig)
