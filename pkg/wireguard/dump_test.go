package wireguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/wgkeeper/pkg/core"
)

const sampleDump = "SERVERPUB=\tSERVERPRIV=\t51820\toff\n" +
	"PEER1=\t(none)\t203.0.113.5:40000\t10.10.10.2/32\t1700000000\t1024\t2048\t25\n" +
	"PEER2=\tPSK=\t(none)\t10.10.11.2/32,10.10.11.3/32\t0\t0\t0\toff\n" +
	"PEER3=\t(none)\t(none)\t(none)\t0\t0\t0\toff\n"

func TestParseDump(t *testing.T) {
	snap, err := ParseDump("wg0", sampleDump)
	require.NoError(t, err)

	assert.Equal(t, "wg0", snap.Interface)
	assert.Equal(t, "SERVERPUB=", snap.PublicKey)
	assert.Equal(t, 51820, snap.ListenPort)
	require.Len(t, snap.Peers, 3)

	p1 := snap.Peers[0]
	assert.Equal(t, "PEER1=", p1.PublicKey)
	require.NotNil(t, p1.Endpoint)
	assert.Equal(t, "203.0.113.5:40000", *p1.Endpoint)
	assert.Equal(t, []string{"10.10.10.2/32"}, p1.AllowedIPs)
	assert.Equal(t, int64(1700000000), p1.LatestHandshake)
	assert.Equal(t, int64(1024), p1.TransferRx)
	assert.Equal(t, int64(2048), p1.TransferTx)
	require.NotNil(t, p1.PersistentKeepalive)
	assert.Equal(t, 25, *p1.PersistentKeepalive)

	p2 := snap.Peers[1]
	assert.Nil(t, p2.Endpoint)
	assert.Equal(t, []string{"10.10.11.2/32", "10.10.11.3/32"}, p2.AllowedIPs)
	assert.Nil(t, p2.PersistentKeepalive)

	assert.Empty(t, snap.Peers[2].AllowedIPs)
	assert.NotNil(t, snap.Peers[2].AllowedIPs)

	assert.NotContains(t, snap.PublicKey, "PRIV")
}

func TestParseDumpNoPeers(t *testing.T) {
	snap, err := ParseDump("wg0", "PUB=\tPRIV=\t51820\toff\n")
	require.NoError(t, err)
	assert.Empty(t, snap.Peers)
	assert.NotNil(t, snap.Peers)
}

func TestParseDumpErrors(t *testing.T) {
	bad := []string{
		"",
		"\n",
		"PUB=\tPRIV=\n",
		"PUB=\tPRIV=\t51820\toff\nPEER=\t(none)\t(none)\n",
		"PUB=\tPRIV=\t51820\toff\nPEER=\t(none)\t(none)\t(none)\tsoon\t0\t0\toff\n",
		"PUB=\tPRIV=\t51820\toff\nPEER=\t(none)\t(none)\t(none)\t0\t0\t0\tsometimes\n",
		"PUB=\tPRIV=\tfive\toff\n",
		"PUB=\tPRIV=\t70000\toff\n",
	}
	for _, s := range bad {
		_, err := ParseDump("wg0", s)
		assert.ErrorIs(t, err, core.ErrParse, "%q", s)
	}
}
