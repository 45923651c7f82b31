package testtool

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupContainer 通用函式來啟動測試容器
func SetupContainer(ctx context.Context, req testcontainers.ContainerRequest) (testcontainers.Container, string, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", "", err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", "", err
	}

	// 轉換 ExposedPorts[0] 為 nat.Port
	natPort, err := nat.NewPort("tcp", strings.TrimSuffix(req.ExposedPorts[0], "/tcp"))
	if err != nil {
		return nil, "", "", err
	}

	port, err := container.MappedPort(ctx, natPort)
	if err != nil {
		return nil, "", "", err
	}

	return container, host, port.Port(), nil
}

// SetupMongo starts a single-node replica set, so change streams are available
func SetupMongo(ctx context.Context) (testcontainers.Container, string, error) {
	container, host, port, err := SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	})
	if err != nil {
		return nil, "", err
	}

	code, _, err := container.Exec(ctx, []string{"mongosh", "--quiet", "--eval",
		"rs.initiate({_id:'rs0',members:[{_id:0,host:'localhost:27017'}]})"})
	if err != nil || code != 0 {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("replica set init failed (code %d): %v", code, err)
	}

	uri := fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port)
	return container, uri, nil
}
