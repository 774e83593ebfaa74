package circulation_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediatheque/circulation-go/circulation"
)

func Test_DeliveryPayload_SurvivesPersistenceRoundTrip(t *testing.T) {
	// setup
	payload := circulation.DeliveryPayload{
		LoanID:      uuid.New(),
		BookID:      uuid.New(),
		DueDate:     time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC),
		DaysOverdue: 3,
	}

	// act
	payloadJSON, err := payload.ToJSON()
	require.NoError(t, err)
	restored, err := circulation.DeliveryPayloadFromJSON(payloadJSON)
	require.NoError(t, err)

	// assert
	assert.Equal(t, payload.LoanID, restored.LoanID)
	assert.Equal(t, payload.BookID, restored.BookID)
	assert.True(t, payload.DueDate.Equal(restored.DueDate))
	assert.Equal(t, 3, restored.DaysOverdue)
	assert.Equal(t, 0, restored.DaysUntilDue)
}

func Test_DeliveryPayloadFromJSON_MalformedInput_Fails(t *testing.T) {
	_, err := circulation.DeliveryPayloadFromJSON([]byte(`{"loan_id": not-json`))

	assert.Error(t, err)
}
