package factory

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/spinroom/internal/delivery"
	"github.com/mcoot/spinroom/internal/dependencies/mocks"
	"github.com/mcoot/spinroom/internal/mailbox"
	"github.com/mcoot/spinroom/internal/services/auth"
	"github.com/mcoot/spinroom/internal/storage/memory"
	"github.com/mcoot/spinroom/internal/testutil"
	"github.com/mcoot/spinroom/internal/transport/ws"
)

// TestSecret signs tokens issued by a TestApp
const TestSecret = "test-secret"

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
	Memory     *mailbox.Memory
}

// NewTestApp creates an App configured for testing with mocked dependencies.
// Live delivery retries are shortened so undeliverable events reach the
// mailbox within a few milliseconds.
func NewTestApp() *TestApp {
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()
	mb := mailbox.NewMemory(mockClock)

	deps := dependencies{
		store:   memory.New(),
		mailbox: mb,
		clock:   mockClock,
		random:  mockRandom,
	}
	cfg := Config{
		RetryPolicy: delivery.RetryPolicy{
			Attempts:   2,
			FirstDelay: time.Millisecond,
			Step:       time.Millisecond,
		},
		WebSocketConfig: ws.DefaultConfig(),
	}
	authCfg := auth.Config{
		Secret:     TestSecret,
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	}

	app, err := newWithDependencies(deps, cfg, authCfg, testutil.NopLogger())
	if err != nil {
		panic("factory: building test app: " + err.Error())
	}

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
		Memory:     mb,
	}
}
