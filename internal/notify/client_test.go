package notify

import (
	"encoding/json"
	"testing"
)

func TestConversationLoadedPayload(t *testing.T) {
	data, err := json.Marshal(ConversationLoaded{
		RunID:          "run-1",
		ConversationID: "annbob_1",
		Pages:          2,
		Messages:       10,
		Calls:          1,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"run_id", "conversation_id", "pages", "messages", "calls", "failed_batches"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}
