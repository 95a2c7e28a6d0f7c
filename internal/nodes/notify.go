package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/soochol/tradeflow/internal/notify"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var templatePattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+)((?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// NotifyExecutor renders a message from its inputs and sends it through the
// sender registered for the credential's type. ERROR inputs are rendered,
// not treated as blocking, so a NOTIFY node can report failures. When Muted
// is set the message is rendered but not delivered.
type NotifyExecutor struct {
	Senders     *notify.SenderRegistry
	Credentials ports.CredentialResolver
	Muted       bool
}

func (e *NotifyExecutor) Execute(ctx context.Context, call *Call) (any, error) {
	cfg, err := tradeflow.DecodeConfig[NotifyConfig](call.Node)
	if err != nil {
		return nil, err
	}
	msg := renderTemplate(cfg.Message, call.Inputs)
	if e.Muted {
		logf(ctx, call.Node.ID, "notification muted", map[string]any{"message": msg})
		return NotifyOutput{Message: msg}, nil
	}
	if cfg.CredentialID == "" {
		return nil, fmt.Errorf("notify %q: credential_id is required", call.Node.ID)
	}
	if e.Credentials == nil || e.Senders == nil {
		return nil, fmt.Errorf("notify %q: messaging is not configured", call.Node.ID)
	}
	cred, err := e.Credentials.Resolve(ctx, cfg.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential %q: %w", cfg.CredentialID, err)
	}
	sender, err := e.Senders.Get(cred.Type)
	if err != nil {
		return nil, err
	}
	if err := sender.Send(ctx, cred, msg); err != nil {
		return nil, err
	}
	return NotifyOutput{Delivered: true, Channel: string(cred.Type), Message: msg}, nil
}

// renderTemplate replaces {{nodeId}} and {{nodeId.field.sub}} with values
// taken from the matching input. Unknown references are left untouched.
func renderTemplate(tmpl string, inputs Inputs) string {
	byID := make(map[string]Input, len(inputs))
	for _, in := range inputs {
		byID[in.NodeID] = in
	}
	return templatePattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		parts := templatePattern.FindStringSubmatch(match)
		in, ok := byID[parts[1]]
		if !ok {
			return match
		}
		if !in.Output.OK() {
			return "error: " + in.Output.Message
		}
		v := plain(in.Output.Value)
		for _, field := range strings.Split(strings.TrimPrefix(parts[2], "."), ".") {
			if field == "" {
				continue
			}
			m, ok := v.(map[string]any)
			if !ok {
				return match
			}
			if v, ok = m[field]; !ok {
				return match
			}
		}
		return format(v)
	})
}

// plain converts a typed output into maps and scalars via its JSON form.
func plain(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func format(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any, []any:
		data, _ := json.Marshal(val)
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}
