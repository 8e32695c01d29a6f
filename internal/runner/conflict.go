package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"
)

// Outcome is the result of a create call that may collide with an existing
// resource of the same name.
type Outcome int

const (
	Created Outcome = iota
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already-exists"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// EC2 error codes for name collisions.
const (
	codeKeyPairDuplicate = "InvalidKeyPair.Duplicate"
	codeGroupDuplicate   = "InvalidGroup.Duplicate"
)

// outcomeOf folds a create error into an Outcome. A duplicate error with code
// 'duplicateCode' becomes AlreadyExists; any other error is returned.
func outcomeOf(err error, duplicateCode string) (Outcome, error) {
	if err == nil {
		return Created, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == duplicateCode {
		return AlreadyExists, nil
	}
	return 0, err
}

var ErrConflictPersisted = fmt.Errorf("resource still exists after replacing it")

// createReplacing runs 'create'. If the name is taken, the existing resource
// is treated as a leftover from an earlier run: it is removed and 'create' is
// tried exactly once more.
func createReplacing(
	ctx context.Context,
	kind, name string,
	create func(ctx context.Context) (Outcome, error),
	remove func(ctx context.Context) error,
) error {
	log := clog.FromContext(ctx).With("kind", kind, "name", name)

	outcome, err := create(ctx)
	if err != nil {
		return err
	}
	if outcome == Created {
		return nil
	}

	log.Warn("resource already exists, replacing it")
	if err := remove(ctx); err != nil {
		return fmt.Errorf("removing existing %s %q: %w", kind, name, err)
	}
	outcome, err = create(ctx)
	if err != nil {
		return err
	}
	if outcome != Created {
		return fmt.Errorf("%w: %s %q", ErrConflictPersisted, kind, name)
	}
	return nil
}
