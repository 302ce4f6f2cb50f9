package agent

import (
	"testing"

	"github.com/syne-agent/syne/internal/store"
)

func TestGroupGateDecision(t *testing.T) {
	member := &store.User{AccessLevel: store.AccessFamily}
	pending := &store.User{AccessLevel: store.AccessPending}

	tests := []struct {
		name            string
		group           *store.Group
		user            *store.User
		policy          string
		platformMention bool
		mentioned       bool
		want            bool
	}{
		{
			name:  "disabled group under allowlist stays silent",
			group: &store.Group{Enabled: false}, user: member,
			policy: "allowlist", mentioned: true,
			want: false,
		},
		{
			name:  "disabled group answers under open policy",
			group: &store.Group{Enabled: false}, user: member,
			policy: "open", mentioned: true,
			want: true,
		},
		{
			name:  "mention required and absent",
			group: &store.Group{Enabled: true, RequireMention: true}, user: member,
			policy: "allowlist", platformMention: true, mentioned: false,
			want: false,
		},
		{
			name:  "platform key off relaxes the mention gate",
			group: &store.Group{Enabled: true, RequireMention: true}, user: member,
			policy: "allowlist", platformMention: false, mentioned: false,
			want: true,
		},
		{
			name:  "group record off relaxes the mention gate",
			group: &store.Group{Enabled: true, RequireMention: false}, user: member,
			policy: "allowlist", platformMention: true, mentioned: false,
			want: true,
		},
		{
			name:  "registered-only mutes pending senders",
			group: &store.Group{Enabled: true, AllowFrom: "registered"}, user: pending,
			policy: "allowlist", mentioned: true,
			want: false,
		},
		{
			name:  "registered-only passes known members",
			group: &store.Group{Enabled: true, AllowFrom: "registered"}, user: member,
			policy: "allowlist", mentioned: true,
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := groupGateDecision(tt.group, tt.user, tt.policy, tt.platformMention, tt.mentioned)
			if got != tt.want {
				t.Errorf("groupGateDecision() = %v, want %v", got, tt.want)
			}
		})
	}
}
