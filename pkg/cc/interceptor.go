// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package cc implements an interceptor that drives a bitrate controller from
// the RTP traffic and RTCP feedback of a peer connection.
package cc

import (
	"github.com/pion/abr/pkg/abr"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Option can be used to set initial options on CC interceptors.
type Option func(*Interceptor) error

// LossAsCongestion controls whether receiver report loss fractions are
// forwarded to the controller as congestion signals. Enabled by default.
func LossAsCongestion(enabled bool) Option {
	return func(i *Interceptor) error {
		i.lossAsCongestion = enabled

		return nil
	}
}

// BitrateController is the controller driven by the interceptor. It is
// returned to the NewPeerConnectionCallback so the application can follow
// target bitrate changes and report network changes.
type BitrateController interface {
	abr.FrameObserver
	abr.CongestionObserver
	OnNetworkTypeChanged(abr.NetworkType)
	OnBitrateUpdate(f func(bitrate int))
	GetTargetBitrate() int
	GetStats() abr.Stats
	Close() error
}

// BitrateControllerFactory creates new BitrateControllers.
type BitrateControllerFactory func() (BitrateController, error)

// NewPeerConnectionCallback returns the BitrateController for the
// PeerConnection with id.
type NewPeerConnectionCallback func(id string, controller BitrateController)

// InterceptorFactory is a factory for CC interceptors.
type InterceptorFactory struct {
	opts              []Option
	controllerFactory BitrateControllerFactory
	addPeerConnection NewPeerConnectionCallback
}

// NewInterceptor returns a new CC interceptor factory. A nil factory creates
// abr.Controllers with the default configuration.
func NewInterceptor(factory BitrateControllerFactory, opts ...Option) (*InterceptorFactory, error) {
	if factory == nil {
		factory = func() (BitrateController, error) {
			return abr.NewController()
		}
	}

	return &InterceptorFactory{
		opts:              opts,
		controllerFactory: factory,
	}, nil
}

// OnNewPeerConnection sets a callback that is called when a new CC
// interceptor is created.
func (f *InterceptorFactory) OnNewPeerConnection(cb NewPeerConnectionCallback) {
	f.addPeerConnection = cb
}

// NewInterceptor returns a new CC interceptor.
func (f *InterceptorFactory) NewInterceptor(id string) (interceptor.Interceptor, error) {
	controller, err := f.controllerFactory()
	if err != nil {
		return nil, err
	}
	i := &Interceptor{
		controller:       controller,
		lossAsCongestion: true,
	}
	for _, opt := range f.opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}

	if f.addPeerConnection != nil {
		f.addPeerConnection(id, i.controller)
	}

	return i, nil
}

// Interceptor reports every outgoing RTP packet as a sent frame and turns
// the loss fraction of incoming receiver reports into congestion signals.
type Interceptor struct {
	interceptor.NoOp
	controller       BitrateController
	lossAsCongestion bool
}

// BindRTCPReader lets you modify any incoming RTCP packets. It is called once
// per sender/receiver, however this might change in the future. The returned
// method will be called once per packet batch.
func (c *Interceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attr, err := reader.Read(b, a)
		if err != nil {
			return 0, nil, err
		}
		if !c.lossAsCongestion {
			return n, attr, nil
		}

		if attr == nil {
			attr = make(interceptor.Attributes)
		}
		pkts, err := attr.GetRTCPPackets(b[:n])
		if err != nil {
			return 0, nil, err
		}
		if loss, ok := maxFractionLost(pkts); ok {
			c.controller.OnCongestion(loss)
		}

		return n, attr, nil
	})
}

// maxFractionLost returns the highest loss fraction reported in pkts.
func maxFractionLost(pkts []rtcp.Packet) (float64, bool) {
	found := false
	loss := 0.0
	for _, pkt := range pkts {
		rr, ok := pkt.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, report := range rr.Reports {
			found = true
			loss = max(loss, float64(report.FractionLost)/256)
		}
	}

	return loss, found
}

// BindLocalStream lets you modify any outgoing RTP packets. It is called once
// for per LocalStream. The returned method will be called once per rtp packet.
func (c *Interceptor) BindLocalStream(_ *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	return interceptor.RTPWriterFunc(func(
		header *rtp.Header,
		payload []byte,
		attributes interceptor.Attributes,
	) (int, error) {
		c.controller.BeforeFrameSent()
		n, err := writer.Write(header, payload, attributes)
		if err != nil {
			return n, err
		}
		c.controller.AfterFrameSent(n)

		return n, nil
	})
}

// Close closes the interceptor and the associated controller.
func (c *Interceptor) Close() error {
	return c.controller.Close()
}
