// Package config loads the navigation service configuration: which frame
// plays each topology role, the fixed camera offsets, the target point and
// the service endpoints.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/dgmato/PercutaneousNavigation/internal/fsutil"
	"github.com/dgmato/PercutaneousNavigation/internal/topology"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/navigation.defaults.json"

// Binding kinds.
const (
	// KindOwned frames are created by the service with the configured matrix.
	KindOwned = "owned"
	// KindTracked frames are published by a tracking source. They are looked
	// up, never created, and are reported missing until they first appear.
	KindTracked = "tracked"
	// KindSelect frames are chosen by the operator at runtime.
	KindSelect = "select"
)

// Matrix4 is a 4x4 matrix written as four rows in JSON.
type Matrix4 [4][4]float64

// Frames converts m to the row-major frames.Matrix layout.
func (m Matrix4) Frames() frames.Matrix {
	var out frames.Matrix
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m[r][c]
		}
	}
	return out
}

// Binding says which frame plays a role and where it comes from.
type Binding struct {
	Frame  string   `json:"frame,omitempty"`
	Kind   string   `json:"kind"`
	Matrix *Matrix4 `json:"matrix,omitempty"` // initial local matrix for owned frames
}

// Fixed reports whether the role's frame is decided by configuration rather
// than by the operator.
func (b Binding) Fixed() bool { return b.Kind != KindSelect }

// Local returns the binding's initial local matrix, identity if unset.
func (b Binding) Local() frames.Matrix {
	if b.Matrix == nil {
		return frames.Identity()
	}
	return b.Matrix.Frames()
}

// CameraOffset is a fixed frame that carries a camera on an instrument.
type CameraOffset struct {
	Frame  string   `json:"frame"`
	Matrix *Matrix4 `json:"matrix,omitempty"`
}

// Local returns the offset's local matrix, identity if unset.
func (c CameraOffset) Local() frames.Matrix {
	if c.Matrix == nil {
		return frames.Identity()
	}
	return c.Matrix.Frames()
}

// NavigationConfig is the root configuration. Every field is optional; the
// Get* methods fall back to built-in defaults.
type NavigationConfig struct {
	Bindings map[string]Binding `json:"bindings,omitempty"`

	NeedleCamera  *CameraOffset `json:"needle_camera,omitempty"`
	PointerCamera *CameraOffset `json:"pointer_camera,omitempty"`
	FocalDistance *float64      `json:"focal_distance_mm,omitempty"`
	TargetPoint   *[3]float64   `json:"target_point,omitempty"` // in patient reference coordinates

	// Service endpoints
	Listen     *string `json:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`

	// Tracking sources; empty disables a source.
	SerialPort    *string `json:"serial_port,omitempty"`
	SerialBaud    *int    `json:"serial_baud,omitempty"`
	UDPListen     *string `json:"udp_listen,omitempty"`
	PCAPFile      *string `json:"pcap_file,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty"` // duration string like "30s"

	ChartSamples *int `json:"chart_samples,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Camera offsets measured for the needle and pointer holders.
var (
	needleCameraMatrix = Matrix4{
		{-0.05, 0.09, -0.99, 60.72},
		{-0.01, 1, 0.09, 12.17},
		{1, 0.01, -0.05, -7.26},
		{0, 0, 0, 1},
	}
	pointerCameraMatrix = Matrix4{
		{-0.05, 0.09, -0.99, 121.72},
		{-0.01, 1, 0.09, 17.17},
		{1, 0.01, -0.05, -7.26},
		{0, 0, 0, 1},
	}
)

// defaultBindings is keyed by topology role name.
func defaultBindings() map[string]Binding {
	return map[string]Binding{
		topology.PointerModel.String():      {Frame: "PointerModel", Kind: KindOwned},
		topology.PointerTip.String():        {Kind: KindSelect},
		topology.PointerTracking.String():   {Frame: "PointerToTracker", Kind: KindTracked},
		topology.TrackerBase.String():       {Frame: "TrackerToReference", Kind: KindTracked},
		topology.NeedleModel.String():       {Frame: "NeedleModel", Kind: KindOwned},
		topology.NeedleTip.String():         {Kind: KindSelect},
		topology.NeedleTracking.String():    {Frame: "NeedleToTracker", Kind: KindTracked},
		topology.BoneModel.String():         {Frame: "BoneModel", Kind: KindOwned},
		topology.SoftTissueModel.String():   {Frame: "SoftTissueModel", Kind: KindOwned},
		topology.PatientReference.String():  {Kind: KindSelect},
		topology.ReferenceTracking.String(): {Frame: "ReferenceToTracker", Kind: KindTracked},
	}
}

// DefaultConfig returns a configuration with every field set to its
// built-in default.
func DefaultConfig() *NavigationConfig {
	needle := needleCameraMatrix
	pointer := pointerCameraMatrix
	return &NavigationConfig{
		Bindings:      defaultBindings(),
		NeedleCamera:  &CameraOffset{Frame: "needleCameraToNeedle", Matrix: &needle},
		PointerCamera: &CameraOffset{Frame: "pointerCameraToPointer", Matrix: &pointer},
		FocalDistance: ptrFloat64(100),
		TargetPoint:   &[3]float64{0, 0, 0},
		Listen:        ptrString(":8080"),
		GRPCListen:    ptrString(":50051"),
		DBPath:        ptrString("percnav.db"),
		SerialPort:    ptrString(""),
		SerialBaud:    ptrInt(115200),
		UDPListen:     ptrString(""),
		PCAPFile:      ptrString(""),
		StatsInterval: ptrString("30s"),
		ChartSamples:  ptrInt(500),
	}
}

// EmptyConfig returns a NavigationConfig with all fields unset.
func EmptyConfig() *NavigationConfig {
	return &NavigationConfig{}
}

// LoadConfig loads a NavigationConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file fall back to defaults, so partial configs are safe.
func LoadConfig(path string) (*NavigationConfig, error) {
	return LoadConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadConfigFS is LoadConfig reading through fsys.
func LoadConfigFS(fsys fsutil.FileSystem, path string) (*NavigationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *NavigationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/distance-plot/
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *NavigationConfig) Validate() error {
	names := make([]string, 0, len(c.Bindings))
	for name := range c.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := topology.ParseRole(name); err != nil {
			return fmt.Errorf("bindings: %w", err)
		}
		b := c.Bindings[name]
		switch b.Kind {
		case KindOwned, KindTracked:
			if b.Frame == "" {
				return fmt.Errorf("bindings: %s is %s but names no frame", name, b.Kind)
			}
		case KindSelect:
		default:
			return fmt.Errorf("bindings: %s has unknown kind %q", name, b.Kind)
		}
		if b.Matrix != nil && b.Kind != KindOwned {
			return fmt.Errorf("bindings: %s sets a matrix but only owned frames have one", name)
		}
	}

	for _, cam := range []*CameraOffset{c.NeedleCamera, c.PointerCamera} {
		if cam != nil && cam.Frame == "" {
			return fmt.Errorf("camera offset must name a frame")
		}
	}

	if c.FocalDistance != nil && *c.FocalDistance <= 0 {
		return fmt.Errorf("focal_distance_mm must be positive, got %f", *c.FocalDistance)
	}

	if c.SerialBaud != nil && *c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}

	if c.StatsInterval != nil && *c.StatsInterval != "" {
		if _, err := time.ParseDuration(*c.StatsInterval); err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
	}

	if c.ChartSamples != nil && *c.ChartSamples < 1 {
		return fmt.Errorf("chart_samples must be at least 1, got %d", *c.ChartSamples)
	}

	return nil
}

// GetBindings returns the binding for every role. Roles missing from the
// file keep their default binding.
func (c *NavigationConfig) GetBindings() map[topology.Role]Binding {
	merged := defaultBindings()
	for name, b := range c.Bindings {
		merged[name] = b
	}
	out := make(map[topology.Role]Binding, len(merged))
	for name, b := range merged {
		role, err := topology.ParseRole(name)
		if err != nil {
			continue // rejected by Validate
		}
		out[role] = b
	}
	return out
}

// GetNeedleCamera returns the needle camera offset or the default.
func (c *NavigationConfig) GetNeedleCamera() CameraOffset {
	if c.NeedleCamera == nil {
		return *DefaultConfig().NeedleCamera
	}
	return *c.NeedleCamera
}

// GetPointerCamera returns the pointer camera offset or the default.
func (c *NavigationConfig) GetPointerCamera() CameraOffset {
	if c.PointerCamera == nil {
		return *DefaultConfig().PointerCamera
	}
	return *c.PointerCamera
}

// GetFocalDistance returns the focal_distance_mm value or the default.
func (c *NavigationConfig) GetFocalDistance() float64 {
	if c.FocalDistance == nil {
		return 100
	}
	return *c.FocalDistance
}

// GetTargetPoint returns the target position in patient reference
// coordinates, the origin by default.
func (c *NavigationConfig) GetTargetPoint() r3.Vec {
	if c.TargetPoint == nil {
		return r3.Vec{}
	}
	p := *c.TargetPoint
	return r3.Vec{X: p[0], Y: p[1], Z: p[2]}
}

// GetListen returns the HTTP listen address or the default.
func (c *NavigationConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC listen address or the default.
func (c *NavigationConfig) GetGRPCListen() string {
	if c.GRPCListen == nil || *c.GRPCListen == "" {
		return ":50051"
	}
	return *c.GRPCListen
}

// GetDBPath returns the sqlite database path or the default.
func (c *NavigationConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "percnav.db"
	}
	return *c.DBPath
}

// GetSerialPort returns the serial device path; empty disables the source.
func (c *NavigationConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialBaud returns the serial baud rate or the default.
func (c *NavigationConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return 115200
	}
	return *c.SerialBaud
}

// GetUDPListen returns the UDP pose listener address; empty disables it.
func (c *NavigationConfig) GetUDPListen() string {
	if c.UDPListen == nil {
		return ""
	}
	return *c.UDPListen
}

// GetPCAPFile returns the capture to replay at startup; empty disables it.
func (c *NavigationConfig) GetPCAPFile() string {
	if c.PCAPFile == nil {
		return ""
	}
	return *c.PCAPFile
}

// GetStatsInterval parses and returns the tracking stats log interval.
func (c *NavigationConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetChartSamples returns how many samples the distance chart shows.
func (c *NavigationConfig) GetChartSamples() int {
	if c.ChartSamples == nil {
		return 500
	}
	return *c.ChartSamples
}
