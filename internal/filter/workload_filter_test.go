package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

func id(kind model.WorkloadKind, ns, name string) model.WorkloadIdentity {
	return model.WorkloadIdentity{Kind: kind, Namespace: ns, Name: name}
}

func TestWorkloadFilter_Keep(t *testing.T) {
	tests := []struct {
		name     string
		config   WorkloadFilterConfig
		identity model.WorkloadIdentity
		want     bool
	}{
		{
			name:     "empty config keeps everything",
			identity: id(model.WorkloadKindDeployment, "payments", "api"),
			want:     true,
		},
		{
			name:     "include by name",
			config:   WorkloadFilterConfig{Include: []string{"api"}},
			identity: id(model.WorkloadKindDeployment, "payments", "api"),
			want:     true,
		},
		{
			name:     "include by name rejects others",
			config:   WorkloadFilterConfig{Include: []string{"api"}},
			identity: id(model.WorkloadKindDeployment, "payments", "worker"),
			want:     false,
		},
		{
			name:     "include by full key pattern",
			config:   WorkloadFilterConfig{Include: []string{"Deployment/payments/*"}},
			identity: id(model.WorkloadKindDeployment, "payments", "worker"),
			want:     true,
		},
		{
			name:     "full key pattern is kind sensitive",
			config:   WorkloadFilterConfig{Include: []string{"Deployment/payments/*"}},
			identity: id(model.WorkloadKindStatefulSet, "payments", "db"),
			want:     false,
		},
		{
			name:     "exclude wins over include",
			config:   WorkloadFilterConfig{Include: []string{"*"}, Exclude: []string{"*-canary"}},
			identity: id(model.WorkloadKindDeployment, "payments", "api-canary"),
			want:     false,
		},
		{
			name:     "exclude by name pattern",
			config:   WorkloadFilterConfig{Exclude: []string{"debug-*"}},
			identity: id(model.WorkloadKindDaemonSet, "infra", "debug-shell"),
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewWorkloadFilter(tt.config)
			assert.Equal(t, tt.want, f.Keep(tt.identity))
		})
	}
}

func TestWorkloadFilter_Apply(t *testing.T) {
	f := NewWorkloadFilter(WorkloadFilterConfig{Exclude: []string{"skip-me"}})
	snaps := []model.ReplicaSnapshot{
		{Identity: id(model.WorkloadKindDeployment, "payments", "api")},
		{Identity: id(model.WorkloadKindDeployment, "payments", "skip-me")},
		{Identity: id(model.WorkloadKindDeployment, "payments", "worker")},
	}
	kept := f.Apply(snaps)
	assert.Len(t, kept, 2)
	assert.Equal(t, "api", kept[0].Identity.Name)
	assert.Equal(t, "worker", kept[1].Identity.Name)
}
