package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	huntingcorner "github.com/permalinkserbia/hunting-corner-mobile-app"
)

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "default.base_url", "http://localhost/api"))
	require.NoError(t, setConfigValue(cfg, "default.store", "sqlite"))
	require.NoError(t, setConfigValue(cfg, "realtime.pusher_key", "abc"))
	require.Equal(t, "http://localhost/api", cfg.Default.BaseURL)
	require.Equal(t, "sqlite", cfg.Default.Store)
	require.Equal(t, "abc", cfg.Realtime.PusherKey)

	require.Error(t, setConfigValue(cfg, "base_url", "x"))
	require.Error(t, setConfigValue(cfg, "default.store", "redis"))
	require.Error(t, setConfigValue(cfg, "default.nope", "x"))
	require.Error(t, setConfigValue(cfg, "other.key", "x"))
}

func TestMaskKey(t *testing.T) {
	require.Equal(t, "****", maskKey("short"))
	require.Equal(t, "abcd...6789", maskKey("abcdef0123456789"))
}

func TestListenSubscriptions(t *testing.T) {
	defer func() { listenChannel, listenEvents = "", nil }()

	require.ElementsMatch(t, [][2]string{
		{huntingcorner.ChannelUser, huntingcorner.EventPostCreated},
		{huntingcorner.ChannelUser, huntingcorner.EventNotificationCreated},
		{huntingcorner.ChannelAds, huntingcorner.EventAdCreated},
	}, listenSubscriptions())

	listenChannel, listenEvents = "timeline", []string{"custom.event"}
	require.Equal(t, [][2]string{{"timeline", "custom.event"}}, listenSubscriptions())
}

func TestOneLine(t *testing.T) {
	require.Equal(t, "a b", oneLine("a\nb"))
	long := oneLine(string(make([]byte, 150)))
	require.Len(t, long, 100)
}
