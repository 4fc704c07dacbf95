package openai_test

import (
	"testing"

	"github.com/dshills/planrun/plan/model"
	"github.com/dshills/planrun/plan/model/openai"
)

func TestNew(t *testing.T) {
	t.Run("empty API key rejected", func(t *testing.T) {
		if _, err := openai.New("", "gpt-4o"); err == nil {
			t.Error("expected error for empty API key")
		}
	})

	t.Run("client satisfies model.Client", func(t *testing.T) {
		c, err := openai.New("test-key", "")
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		var _ model.Client = c
	})
}
