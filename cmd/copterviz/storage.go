package main

import (
	"fmt"
	"strings"

	"github.com/OCAP2/copterviz/internal/config"
	"github.com/OCAP2/copterviz/internal/geo"
	"github.com/OCAP2/copterviz/internal/storage"
	"github.com/OCAP2/copterviz/internal/storage/memory"
	wsstorage "github.com/OCAP2/copterviz/internal/storage/websocket"
)

func createStorageBackend(storageCfg config.StorageConfig, streamCfg config.StreamConfig, frameCfg config.FrameConfig) (storage.Backend, error) {
	switch storageCfg.Type {
	case "websocket":
		georef, err := geo.NewGeoreferencer(frameCfg.OriginLat, frameCfg.OriginLon)
		if err != nil {
			return nil, fmt.Errorf("invalid frame origin: %w", err)
		}
		wsURL := httpToWS(storageCfg.WebSocket.URL)
		Logger.Info("WebSocket storage backend initialized", "url", wsURL, "georeferenced", georef != nil)
		return wsstorage.New(wsstorage.Config{
			URL:                wsURL,
			Secret:             storageCfg.WebSocket.Secret,
			ShapesOnlyOnUpdate: streamCfg.ShapesOnlyOnUpdate,
			QueueSize:          streamCfg.ViewerQueue,
			Georef:             georef,
		}, Logger), nil

	case "memory", "":
		Logger.Info("Memory storage backend initialized")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
