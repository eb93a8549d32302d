package usecase

import (
	"context"
	"fmt"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

var codePrefixes = map[domain.EntityKind]string{
	domain.KindActor:      "ACT",
	domain.KindConvention: "CONV",
	domain.KindStore:      "STO",
	domain.KindDocument:   "DOC",
}

// CodeGenerator issues locally unique display codes for records created
// before the server has assigned a canonical code. Counters live in the
// settings table and never reset, so codes stay unique across restarts.
type CodeGenerator struct {
	settings ports.SettingsStore
}

func NewCodeGenerator(settings ports.SettingsStore) *CodeGenerator {
	return &CodeGenerator{settings: settings}
}

func (g *CodeGenerator) NextLocalCode(ctx context.Context, kind domain.EntityKind) (string, error) {
	prefix, ok := codePrefixes[kind]
	if !ok {
		return "", fmt.Errorf("no code prefix for entity kind %q", kind)
	}
	n, err := g.settings.NextSequence(ctx, "local_code_seq:"+string(kind))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-LOCAL-%04d", prefix, n), nil
}
