package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/face10ai/credits-backend/pkg/config"
)

const testProject = "face10ai-test"

func newEmulator(t *testing.T, topics ...string) (*pstest.Server, option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	for _, topic := range topics {
		_, err := srv.GServer.CreateTopic(context.Background(), &pubsubpb.Topic{Name: topicResourceName(testProject, topic)})
		require.NoError(t, err)
	}
	return srv, option.WithGRPCConn(conn)
}

func TestSendPublishesToEmulator(t *testing.T) {
	srv, conn := newEmulator(t, "billing")
	ctx := context.Background()

	client, err := NewClient(ctx, config.GCPConfig{ProjectID: testProject}, config.PubSubConfig{BillingTopic: "billing"}, nil, conn)
	require.NoError(t, err)

	id, err := client.Send(ctx, "billing", []byte(`{"event_type":"referral_rewarded"}`), map[string]string{"event_id": "e1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Same(t, client.Publisher("billing"), client.Publisher("projects/"+testProject+"/topics/billing"))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "e1", msgs[0].Attributes["event_id"])

	require.NoError(t, client.Close())
	_, err = client.Send(ctx, "billing", []byte(`{}`), nil)
	assert.ErrorIs(t, err, errClosed)
}

func TestNewClientFailsForMissingTopic(t *testing.T) {
	_, conn := newEmulator(t)
	_, err := NewClient(context.Background(), config.GCPConfig{ProjectID: testProject}, config.PubSubConfig{BillingTopic: "billing"}, nil, conn)
	assert.ErrorContains(t, err, "does not exist")
}

func TestTopicResourceName(t *testing.T) {
	assert.Equal(t, "projects/p1/topics/billing", topicResourceName("p1", " billing "))
	assert.Equal(t, "projects/other/topics/x", topicResourceName("p1", "projects/other/topics/x"))
	assert.Equal(t, "", topicResourceName("", "billing"))
	assert.Equal(t, "", topicResourceName("p1", ""))
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{BillingTopic: "b"}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errNoTopics)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("billing"))
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
	_, err := c.Send(context.Background(), "billing", []byte("{}"), nil)
	assert.ErrorIs(t, err, ErrTopicNotConfigured)
}
