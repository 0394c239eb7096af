package api

import (
	"fmt"

	"github.com/davidbalbert/eigrpd/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Client struct {
	*grpc.ClientConn
	*rpc.Client
}

func NewClient(socketPath string) (*Client, error) {
	target := fmt.Sprintf("unix://%s", socketPath)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	return &Client{
		ClientConn: conn,
		Client:     rpc.NewClient(conn),
	}, nil
}
