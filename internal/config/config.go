package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the file Load looks for in the config directory.
const ConfigFileName = "copterviz.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. COPTERVIZ_VEHICLE_NUMROTORS.
const EnvPrefix = "COPTERVIZ"

// FrameConfig holds the frame identifiers and optional geodetic origin.
type FrameConfig struct {
	Fixed     string
	Child     string
	OriginLat float64
	OriginLon float64
}

// VehicleConfig holds the vehicle geometry parameters.
type VehicleConfig struct {
	MarkerScale float64
	NumRotors   int
	ArmLen      float64
	BodyWidth   float64
	BodyHeight  float64
}

// TrackConfig holds trail sizing.
type TrackConfig struct {
	MaxSize            int
	ShapeTrailCapacity int
}

// StreamConfig holds pose queue and emission settings.
type StreamConfig struct {
	PoseQueue          int
	ViewerQueue        int
	ShapesOnlyOnUpdate bool
}

// WebSocketConfig holds WebSocket backend settings.
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects and configures the frame backend.
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds InfluxDB settings for performance metrics.
type InfluxConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

// GraylogConfig holds the GELF log sink settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("frame.fixed", "map")
	viper.SetDefault("frame.child", "copter_frame")
	viper.SetDefault("frame.originLat", 0.0)
	viper.SetDefault("frame.originLon", 0.0)

	viper.SetDefault("vehicle.markerScale", 5.0)
	viper.SetDefault("vehicle.numRotors", 6)
	viper.SetDefault("vehicle.armLen", 0.22)
	viper.SetDefault("vehicle.bodyWidth", 0.15)
	viper.SetDefault("vehicle.bodyHeight", 0.10)

	viper.SetDefault("track.maxSize", 1000)
	viper.SetDefault("shapes.trailCapacity", 0)

	viper.SetDefault("stream.poseQueue", 1000)
	viper.SetDefault("stream.viewerQueue", 256)
	viper.SetDefault("stream.shapesOnlyOnUpdate", false)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/viz")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("viewer.url", "")
	viper.SetDefault("http.listen", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "copterviz")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "copterviz")
	viper.SetDefault("influx.bucket", "copterviz_performance")

	viper.SetDefault("monitor.interval", "5s")
}

// Load sets default values, enables environment overrides and reads the JSON
// config file from configDir. Defaults stay in effect when the file is
// missing; the returned error only reports that the file could not be read.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFrameConfig returns the frame identifiers.
func GetFrameConfig() FrameConfig {
	return FrameConfig{
		Fixed:     viper.GetString("frame.fixed"),
		Child:     viper.GetString("frame.child"),
		OriginLat: viper.GetFloat64("frame.originLat"),
		OriginLon: viper.GetFloat64("frame.originLon"),
	}
}

// GetVehicleConfig returns the vehicle geometry parameters as configured.
// Clamping is left to the geometry builder.
func GetVehicleConfig() VehicleConfig {
	return VehicleConfig{
		MarkerScale: viper.GetFloat64("vehicle.markerScale"),
		NumRotors:   viper.GetInt("vehicle.numRotors"),
		ArmLen:      viper.GetFloat64("vehicle.armLen"),
		BodyWidth:   viper.GetFloat64("vehicle.bodyWidth"),
		BodyHeight:  viper.GetFloat64("vehicle.bodyHeight"),
	}
}

// GetTrackConfig returns the trail sizes.
func GetTrackConfig() TrackConfig {
	return TrackConfig{
		MaxSize:            viper.GetInt("track.maxSize"),
		ShapeTrailCapacity: viper.GetInt("shapes.trailCapacity"),
	}
}

// GetStreamConfig returns the pose queue settings.
func GetStreamConfig() StreamConfig {
	return StreamConfig{
		PoseQueue:          viper.GetInt("stream.poseQueue"),
		ViewerQueue:        viper.GetInt("stream.viewerQueue"),
		ShapesOnlyOnUpdate: viper.GetBool("stream.shapesOnlyOnUpdate"),
	}
}

// GetStorageConfig returns the backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetOTelConfig returns OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled: viper.GetBool("influx.enabled"),
		URL:     viper.GetString("influx.url"),
		Token:   viper.GetString("influx.token"),
		Org:     viper.GetString("influx.org"),
		Bucket:  viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF sink configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetMonitorInterval returns how often the status monitor samples.
func GetMonitorInterval() time.Duration {
	return viper.GetDuration("monitor.interval")
}

// GetViewerURL returns the viewer's HTTP base URL. Empty disables the
// startup health check.
func GetViewerURL() string {
	return viper.GetString("viewer.url")
}

// GetStatusListenAddr returns the status server listen address. Empty
// disables the server.
func GetStatusListenAddr() string {
	return viper.GetString("http.listen")
}
