// Package manifest merges promoted digests into environment manifests.
package manifest

import (
	"bytes"

	"github.com/samber/lo"
	"github.com/yz4230/release-promoter/internal/entity"
	"gopkg.in/yaml.v3"
)

// Delta is what a promotion asks of envs/<env>/<service>.yaml.
type Delta struct {
	Service     string    `json:"service"`
	Env         string    `json:"env"`
	RegistryRef string    `json:"registryRef"`
	Digest      string    `json:"digest"`
	QueueID     entity.ID `json:"queueId"`
}

func (d Delta) Image() string { return d.RegistryRef + "@" + d.Digest }

// Defaults seed operator-owned fields of a manifest that has none.
type Defaults struct {
	Replicas        int
	ResourceProfile string
}

// Merge applies d to existing (nil when the file does not exist yet). Operator
// owned fields are only filled when absent. changed is false when the encoded
// result is byte-identical to the encoded input.
func Merge(existing *entity.EnvManifest, d Delta, defaults Defaults) (entity.EnvManifest, bool, error) {
	var before entity.EnvManifest
	if existing != nil {
		before = *existing
	}
	after := before
	after.Service = d.Service
	after.Image = d.Image()
	if after.Replicas == nil {
		after.Replicas = lo.ToPtr(defaults.Replicas)
	}
	if after.ResourceProfile == "" {
		after.ResourceProfile = defaults.ResourceProfile
	}

	if existing == nil {
		return after, true, nil
	}
	a, err := Encode(before)
	if err != nil {
		return after, false, err
	}
	b, err := Encode(after)
	if err != nil {
		return after, false, err
	}
	return after, !bytes.Equal(a, b), nil
}

func Encode(m entity.EnvManifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
