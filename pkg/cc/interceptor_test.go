// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package cc

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/abr/pkg/abr"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockController struct {
	lock        sync.Mutex
	before      int
	after       []int
	congestion  []float64
	closeCalled bool
}

func (m *mockController) BeforeFrameSent() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.before++
}

func (m *mockController) AfterFrameSent(size int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.after = append(m.after, size)
}

func (m *mockController) OnCongestion(bufferFill float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.congestion = append(m.congestion, bufferFill)
}

func (m *mockController) OnNetworkTypeChanged(abr.NetworkType) {}

func (m *mockController) OnBitrateUpdate(func(int)) {}

func (m *mockController) GetTargetBitrate() int {
	return 0
}

func (m *mockController) GetStats() abr.Stats {
	return abr.Stats{}
}

func (m *mockController) Close() error {
	m.closeCalled = true

	return nil
}

func newTestInterceptor(t *testing.T, opts ...Option) (*Interceptor, *mockController) {
	t.Helper()

	mc := &mockController{}
	f, err := NewInterceptor(func() (BitrateController, error) {
		return mc, nil
	}, opts...)
	require.NoError(t, err)

	var callbackID string
	var callbackController BitrateController
	f.OnNewPeerConnection(func(id string, controller BitrateController) {
		callbackID = id
		callbackController = controller
	})

	i, err := f.NewInterceptor("pc-1")
	require.NoError(t, err)
	assert.Equal(t, "pc-1", callbackID)
	assert.Equal(t, mc, callbackController)

	cc, ok := i.(*Interceptor)
	require.True(t, ok)

	return cc, mc
}

func rtcpReader(t *testing.T, pkts ...rtcp.Packet) interceptor.RTCPReader {
	t.Helper()

	buf, err := rtcp.Marshal(pkts)
	require.NoError(t, err)

	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		return copy(b, buf), a, nil
	})
}

func TestInterceptor(t *testing.T) {
	t.Run("reports_frames", func(t *testing.T) {
		i, mc := newTestInterceptor(t)
		writer := i.BindLocalStream(&interceptor.StreamInfo{}, interceptor.RTPWriterFunc(
			func(header *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
				return header.MarshalSize() + len(payload), nil
			},
		))

		hdr := &rtp.Header{Version: 2}
		n, err := writer.Write(hdr, make([]byte, 1000), nil)
		assert.NoError(t, err)
		assert.Equal(t, 1012, n)

		assert.Equal(t, 1, mc.before)
		assert.Equal(t, []int{1012}, mc.after)
	})

	t.Run("write_error", func(t *testing.T) {
		i, mc := newTestInterceptor(t)
		errWrite := errors.New("write failed")
		writer := i.BindLocalStream(&interceptor.StreamInfo{}, interceptor.RTPWriterFunc(
			func(*rtp.Header, []byte, interceptor.Attributes) (int, error) {
				return 0, errWrite
			},
		))

		_, err := writer.Write(&rtp.Header{}, nil, nil)
		assert.ErrorIs(t, err, errWrite)
		assert.Equal(t, 1, mc.before)
		assert.Empty(t, mc.after)
	})

	t.Run("loss_as_congestion", func(t *testing.T) {
		i, mc := newTestInterceptor(t)
		reader := i.BindRTCPReader(rtcpReader(t,
			&rtcp.ReceiverReport{SSRC: 1, Reports: []rtcp.ReceptionReport{
				{SSRC: 2, FractionLost: 64},
				{SSRC: 3, FractionLost: 128},
			}},
			&rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2},
		))

		buf := make([]byte, 1500)
		_, attr, err := reader.Read(buf, nil)
		assert.NoError(t, err)
		assert.NotNil(t, attr)
		assert.Equal(t, []float64{0.5}, mc.congestion)
	})

	t.Run("ignores_packets_without_reports", func(t *testing.T) {
		i, mc := newTestInterceptor(t)
		reader := i.BindRTCPReader(rtcpReader(t, &rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2}))

		_, _, err := reader.Read(make([]byte, 1500), nil)
		assert.NoError(t, err)
		assert.Empty(t, mc.congestion)
	})

	t.Run("loss_disabled", func(t *testing.T) {
		i, mc := newTestInterceptor(t, LossAsCongestion(false))
		reader := i.BindRTCPReader(rtcpReader(t,
			&rtcp.ReceiverReport{SSRC: 1, Reports: []rtcp.ReceptionReport{{SSRC: 2, FractionLost: 255}}},
		))

		_, _, err := reader.Read(make([]byte, 1500), nil)
		assert.NoError(t, err)
		assert.Empty(t, mc.congestion)
	})

	t.Run("close", func(t *testing.T) {
		i, mc := newTestInterceptor(t)
		assert.NoError(t, i.Close())
		assert.True(t, mc.closeCalled)
	})
}

func TestInterceptorDefaultController(t *testing.T) {
	f, err := NewInterceptor(nil)
	require.NoError(t, err)

	var controller BitrateController
	f.OnNewPeerConnection(func(_ string, c BitrateController) {
		controller = c
	})
	i, err := f.NewInterceptor("")
	require.NoError(t, err)
	require.NotNil(t, controller)

	controller.OnNetworkTypeChanged(abr.NetworkWiFi)
	assert.Equal(t, 3*abr.MegaBitPerSecond, controller.GetTargetBitrate())
	assert.NoError(t, i.Close())
}
