package api

import (
	"context"
	"errors"

	"github.com/davidbalbert/eigrpd/eigrp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultSocket = "/var/run/eigrpd.sock"

// eigrpService is the running EIGRP service.
type eigrpService interface {
	Instance() (*eigrp.Instance, error)
}

func unavailable(err error) error {
	return status.Error(codes.Unavailable, err.Error())
}

// toStatus converts errors from a running instance into grpc statuses.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, eigrp.ErrShutdown):
		return unavailable(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return err
	}
}
