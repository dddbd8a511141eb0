package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/config"
	"github.com/kjstillabower/external-task-worker/internal/engine"
	"github.com/kjstillabower/external-task-worker/internal/externaltask"
	"github.com/kjstillabower/external-task-worker/internal/handlers"
	"github.com/kjstillabower/external-task-worker/internal/lifecycle"
	"github.com/kjstillabower/external-task-worker/internal/subscription"
	"github.com/kjstillabower/external-task-worker/internal/testhelpers"
)

const (
	annotationTopic    = "test-topic-annotation"
	configurationTopic = "test-topic-configuration"
	overrideProfile    = "annotation-override.yaml"
)

var noop = externaltask.HandlerFunc(func(context.Context, *externaltask.ExternalTask, externaltask.TaskService) {})

// testHandlers declares one topic fully and one by name only.
func testHandlers() Handlers {
	return Handlers{
		subscription.Annotate(subscription.Subscription{
			TopicName:      annotationTopic,
			LockDuration:   19000 * time.Millisecond,
			Variables:      []string{"test-one", "test-two"},
			LocalVariables: true,
		}, noop),
		subscription.Annotate(subscription.Subscription{TopicName: configurationTopic}, noop),
	}
}

// startApp loads testdata/config/test.yaml plus the given property sources,
// points the client at a fake engine and starts the application.
func startApp(t *testing.T, hs Handlers, sources ...string) (*Application, *testhelpers.FakeEngine) {
	t.Helper()
	fake := testhelpers.NewFakeEngine(t)
	t.Setenv("ENV_NAME", "")
	t.Setenv("EXTERNAL_CLIENT_BASE_URL", fake.URL())
	t.Setenv("EXTERNAL_CLIENT_WORKER_ID", "")
	t.Setenv("ZEEBE_GATEWAY_ADDRESS", "")
	lifecycle.SetShuttingDown(false)

	cfg, err := config.LoadWithOptions(config.Options{Dir: "testdata", Env: "test", PropertySources: sources})
	require.NoError(t, err)

	application, err := InitializeApplication(cfg, zap.NewNop(), hs, nil, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, application.Shutdown(ctx))
		lifecycle.SetShuttingDown(false)
	})
	return application, fake
}

// localURL dials the bound port on the loopback address.
func localURL(t *testing.T, application *Application) string {
	t.Helper()
	_, port, err := net.SplitHostPort(application.Addr())
	require.NoError(t, err)
	return fmt.Sprintf("http://127.0.0.1:%s", port)
}

func requireSubscription(t *testing.T, application *Application, topic string) externaltask.TopicSubscription {
	t.Helper()
	sub, ok := application.ExternalTaskClient.Subscription(topic)
	require.True(t, ok, "no subscription for topic %q", topic)
	return sub
}

// TestApplication_DeclaredSubscription verifies that handler metadata alone
// configures the subscription.
func TestApplication_DeclaredSubscription(t *testing.T) {
	application, _ := startApp(t, testHandlers())

	sub := requireSubscription(t, application, annotationTopic)
	assert.Equal(t, int64(19000), sub.LockDuration.Milliseconds())
	assert.Equal(t, []string{"test-one", "test-two"}, sub.Variables)
	assert.True(t, sub.LocalVariables)
}

// TestApplication_OverrideProfile verifies that configured values replace the
// declared ones and configure a topic declared by name only.
func TestApplication_OverrideProfile(t *testing.T) {
	application, _ := startApp(t, testHandlers(), overrideProfile)

	annotated := requireSubscription(t, application, annotationTopic)
	assert.Equal(t, int64(54321), annotated.LockDuration.Milliseconds())
	assert.Equal(t, []string{"annotation-overwritten-one", "annotation-overwritten-two"}, annotated.Variables)
	assert.False(t, annotated.LocalVariables)

	configured := requireSubscription(t, application, configurationTopic)
	assert.Equal(t, int64(30000), configured.LockDuration.Milliseconds())
	assert.Equal(t, []string{"var-one", "var-two"}, configured.Variables)
	assert.True(t, configured.LocalVariables)
}

// TestApplication_NameOnlyTopicUsesClientDefaults verifies the client lock
// duration and the fetch-all variables default without configuration.
func TestApplication_NameOnlyTopicUsesClientDefaults(t *testing.T) {
	application, _ := startApp(t, testHandlers())

	sub := requireSubscription(t, application, configurationTopic)
	assert.Equal(t, 20*time.Second, sub.LockDuration)
	assert.Nil(t, sub.Variables)
	assert.False(t, sub.LocalVariables)
}

// TestApplication_ProcessesTask verifies the full path from fetchAndLock to complete.
func TestApplication_ProcessesTask(t *testing.T) {
	logger := zap.NewNop()
	application, fake := startApp(t, Handlers{handlers.NewNumberHandler(logger)})

	fake.Enqueue(engine.LockedExternalTask{
		ID:        "task-1",
		TopicName: handlers.NumberTopic,
		Variables: map[string]engine.VariableValue{
			"number": {Type: externaltask.TypeInteger, Value: json.RawMessage(`21`)},
		},
	})

	var call testhelpers.Call
	select {
	case call = <-fake.Notify():
	case <-time.After(5 * time.Second):
		t.Fatal("task was not completed")
	}
	assert.Equal(t, "complete", call.Op)
	assert.Equal(t, "task-1", call.TaskID)

	var body engine.CompleteRequest
	require.NoError(t, json.Unmarshal(call.Body, &body))
	assert.Equal(t, application.ExternalTaskClient.WorkerID(), body.WorkerID)
	require.Contains(t, body.Variables, "result")
	assert.Equal(t, externaltask.TypeInteger, body.Variables["result"].Type)
	assert.JSONEq(t, `42`, string(body.Variables["result"].Value))

	fetches := fake.Fetches()
	require.NotEmpty(t, fetches)
	assert.Equal(t, 5, fetches[0].MaxTasks)
	require.Len(t, fetches[0].Topics, 1)
	assert.Equal(t, handlers.NumberTopic, fetches[0].Topics[0].TopicName)
	assert.Equal(t, int64(20000), fetches[0].Topics[0].LockDuration)
}

// TestApplication_HTTPSurface verifies /health and /subscriptions on the bound listener.
func TestApplication_HTTPSurface(t *testing.T) {
	application, _ := startApp(t, testHandlers(), overrideProfile)
	base := localURL(t, application)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/subscriptions")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Subscriptions []struct {
			TopicName    string `json:"topicName"`
			LockDuration int64  `json:"lockDuration"`
		} `json:"subscriptions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Subscriptions, 2)
	assert.Equal(t, annotationTopic, body.Subscriptions[0].TopicName)
	assert.Equal(t, int64(54321), body.Subscriptions[0].LockDuration)
}

// TestApplication_ShutdownReportsUnhealthy verifies /health answers 503 once draining starts.
func TestApplication_ShutdownReportsUnhealthy(t *testing.T) {
	application, _ := startApp(t, testHandlers())
	assert.True(t, application.ExternalTaskClient.IsActive())

	lifecycle.SetShuttingDown(true)
	resp, err := http.Get(localURL(t, application) + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestApplication_CustomizerRuns(t *testing.T) {
	fake := testhelpers.NewFakeEngine(t)
	t.Setenv("ENV_NAME", "")
	t.Setenv("EXTERNAL_CLIENT_BASE_URL", fake.URL())
	t.Setenv("EXTERNAL_CLIENT_WORKER_ID", "")
	cfg, err := config.LoadWithOptions(config.Options{Dir: "testdata", Env: "test"})
	require.NoError(t, err)

	called := false
	application, err := InitializeApplication(cfg, zap.NewNop(), nil, nil, Customizers{
		func(b *externaltask.ClientBuilder) {
			called = true
			b.DisableAutoFetching()
		},
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, application.ExternalTaskClient.AutoFetching())
	assert.Equal(t, "test-worker", application.ExternalTaskClient.WorkerID())
}

func TestProvideOverrides(t *testing.T) {
	d := 54321 * time.Millisecond
	local := false
	cfg := &config.Config{ExternalClient: config.ExternalClientConfig{
		Subscriptions: map[string]config.SubscriptionConfig{
			annotationTopic: {LockDuration: &d, Variables: []string{"a"}, LocalVariables: &local},
		},
	}}

	got := provideOverrides(cfg)
	require.Contains(t, got, annotationTopic)
	o := got[annotationTopic]
	assert.Equal(t, &d, o.LockDuration)
	assert.Equal(t, []string{"a"}, o.Variables)
	assert.Equal(t, &local, o.LocalVariables)
	assert.Nil(t, o.BusinessKey)

	assert.Nil(t, provideOverrides(&config.Config{}))
}

func TestProvideCircuitBreaker_Disabled(t *testing.T) {
	assert.Nil(t, provideCircuitBreaker(&config.Config{}, zap.NewNop()))
	assert.Nil(t, provideRateLimiter(&config.Config{}))
}
