package entity

// EnvManifest is envs/<env>/<service>.yaml. Service and Image belong to the
// promoter; Replicas, ResourceProfile and anything in Extra belong to operators.
type EnvManifest struct {
	Service         string         `yaml:"service" json:"service"`
	Image           string         `yaml:"image" json:"image"`
	Replicas        *int           `yaml:"replicas,omitempty" json:"replicas,omitempty"`
	ResourceProfile string         `yaml:"resourceProfile,omitempty" json:"resourceProfile,omitempty"`
	Extra           map[string]any `yaml:",inline" json:"-"`
}
