package inject

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleManifestXML = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>SinfPaths</key>
	<array>
		<string>SC_Info/App.sinf</string>
	</array>
</dict>
</plist>`

const sampleInfoPlistXML = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>CFBundleExecutable</key>
	<string>App</string>
	<key>CFBundleIdentifier</key>
	<string>com.example.app</string>
</dict>
</plist>`

func TestParseXMLManifestSinfPaths(t *testing.T) {
	paths, ok := ParseManifestSinfPaths([]byte(sampleManifestXML))
	require.True(t, ok)
	require.Equal(t, []string{"SC_Info/App.sinf"}, paths)
}

func TestParseXMLInfoPlistExecutable(t *testing.T) {
	exec, ok := ParseInfoPlistExecutable([]byte(sampleInfoPlistXML))
	require.True(t, ok)
	require.Equal(t, "App", exec)
}

func TestConvertXMLToBinaryPlistRoundTrips(t *testing.T) {
	binData, err := ConvertXMLToBinaryPlist([]byte(sampleInfoPlistXML))
	require.NoError(t, err)
	require.Contains(t, string(binData[:8]), "bplist00")

	exec, ok := ParseInfoPlistExecutable(binData)
	require.True(t, ok)
	require.Equal(t, "App", exec)
}

func TestParseManifestMissingSinfPaths(t *testing.T) {
	_, ok := ParseManifestSinfPaths([]byte(`<?xml version="1.0"?><plist><dict></dict></plist>`))
	require.False(t, ok)
}
