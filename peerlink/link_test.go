package peerlink_test

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/peerlink"
	"duocall/peerlink/peerlinktest"
	"duocall/types/negotiation"
)

func nextEvent(t *testing.T, l *peerlink.Link, typ peerlink.EventType) peerlink.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-l.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event of type %d", typ)
			return peerlink.Event{}
		}
	}
}

// description returns a minimal parsable description carrying the ufrag.
func description(typ string, revision int, ufrag string) negotiation.Description {
	return negotiation.Description{
		Type: typ,
		SDP: "v=0\r\n" +
			"o=- 1 1 IN IP4 0.0.0.0\r\n" +
			"s=-\r\n" +
			"t=0 0\r\n" +
			"a=ice-ufrag:" + ufrag + "\r\n",
		Revision: revision,
	}
}

func candidate(s string) webrtc.ICECandidateInit {
	mid := "0"
	return webrtc.ICECandidateInit{Candidate: s, SDPMid: &mid}
}

func TestNegotiation(t *testing.T) {
	t.Run("given both roles when offer and answer exchanged then both stable", func(t *testing.T) {
		ta, tb := peerlinktest.NewTransport("a"), peerlinktest.NewTransport("b")
		offerer := peerlink.New(peerlink.Offerer, ta)
		answerer := peerlink.New(peerlink.Answerer, tb)

		offer, err := offerer.CreateOffer(false)
		require.NoError(t, err)
		assert.Equal(t, "offer", offer.Type)
		assert.Equal(t, 1, offer.Revision)

		answer, err := answerer.CreateAnswerFor(offer)
		require.NoError(t, err)
		assert.Equal(t, "answer", answer.Type)
		assert.Equal(t, 1, answer.Revision)

		require.NoError(t, offerer.ApplyRemoteAnswer(answer))
		assert.Equal(t, webrtc.SignalingStateStable, ta.SignalingState())
		assert.Equal(t, webrtc.SignalingStateStable, tb.SignalingState())

		c := nextEvent(t, offerer, peerlink.CandidateEvent)
		assert.Contains(t, c.Candidate.Candidate, "candidate:a1")
	})

	t.Run("given applied answer when delivered again then stale", func(t *testing.T) {
		offerer := peerlink.New(peerlink.Offerer, peerlinktest.NewTransport("a"))
		answerer := peerlink.New(peerlink.Answerer, peerlinktest.NewTransport("b"))
		offer, err := offerer.CreateOffer(false)
		require.NoError(t, err)
		answer, err := answerer.CreateAnswerFor(offer)
		require.NoError(t, err)
		require.NoError(t, offerer.ApplyRemoteAnswer(answer))

		assert.ErrorIs(t, offerer.ApplyRemoteAnswer(answer), peerlink.ErrStaleDescription)
	})

	t.Run("given answered offer when delivered again then stale", func(t *testing.T) {
		offerer := peerlink.New(peerlink.Offerer, peerlinktest.NewTransport("a"))
		answerer := peerlink.New(peerlink.Answerer, peerlinktest.NewTransport("b"))
		offer, err := offerer.CreateOffer(false)
		require.NoError(t, err)
		_, err = answerer.CreateAnswerFor(offer)
		require.NoError(t, err)

		_, err = answerer.CreateAnswerFor(offer)
		assert.ErrorIs(t, err, peerlink.ErrStaleDescription)
	})

	t.Run("given ice restart when old answer arrives then stale and new answer applies", func(t *testing.T) {
		offerer := peerlink.New(peerlink.Offerer, peerlinktest.NewTransport("a"))
		answerer := peerlink.New(peerlink.Answerer, peerlinktest.NewTransport("b"))
		offer, err := offerer.CreateOffer(false)
		require.NoError(t, err)
		first, err := answerer.CreateAnswerFor(offer)
		require.NoError(t, err)
		require.NoError(t, offerer.ApplyRemoteAnswer(first))

		restart, err := offerer.CreateOffer(true)
		require.NoError(t, err)
		assert.True(t, restart.ICERestart)
		assert.Equal(t, 2, restart.Revision)

		assert.ErrorIs(t, offerer.ApplyRemoteAnswer(first), peerlink.ErrStaleDescription)

		second, err := answerer.CreateAnswerFor(restart)
		require.NoError(t, err)
		assert.Equal(t, 2, second.Revision)
		assert.NoError(t, offerer.ApplyRemoteAnswer(second))
	})

	t.Run("given fixed roles when the other side's step is called then wrong role", func(t *testing.T) {
		offerer := peerlink.New(peerlink.Offerer, peerlinktest.NewTransport("a"))
		answerer := peerlink.New(peerlink.Answerer, peerlinktest.NewTransport("b"))

		_, err := answerer.CreateOffer(false)
		assert.ErrorIs(t, err, peerlink.ErrWrongRole)
		_, err = offerer.CreateAnswerFor(negotiation.Description{Type: "offer", SDP: "x"})
		assert.ErrorIs(t, err, peerlink.ErrWrongRole)
		assert.ErrorIs(t, answerer.ApplyRemoteAnswer(negotiation.Description{Type: "answer", SDP: "x"}), peerlink.ErrWrongRole)
	})
}

func TestRemoteCandidates(t *testing.T) {
	t.Run("given no remote description when candidates arrive then applied after answer", func(t *testing.T) {
		ta := peerlinktest.NewTransport("a")
		offerer := peerlink.New(peerlink.Offerer, ta)
		answerer := peerlink.New(peerlink.Answerer, peerlinktest.NewTransport("b"))

		offer, err := offerer.CreateOffer(false)
		require.NoError(t, err)

		applied, err := offerer.AddRemoteCandidate(candidate("candidate:early"))
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Empty(t, ta.Candidates())

		answer, err := answerer.CreateAnswerFor(offer)
		require.NoError(t, err)
		require.NoError(t, offerer.ApplyRemoteAnswer(answer))
		require.Len(t, ta.Candidates(), 1)
		assert.Equal(t, "candidate:early", ta.Candidates()[0].Candidate)
	})

	t.Run("given applied candidate when delivered again then no-op", func(t *testing.T) {
		tb := peerlinktest.NewTransport("b")
		offerer := peerlink.New(peerlink.Offerer, peerlinktest.NewTransport("a"))
		answerer := peerlink.New(peerlink.Answerer, tb)
		offer, err := offerer.CreateOffer(false)
		require.NoError(t, err)
		_, err = answerer.CreateAnswerFor(offer)
		require.NoError(t, err)

		applied, err := answerer.AddRemoteCandidate(candidate("candidate:1"))
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = answerer.AddRemoteCandidate(candidate("candidate:1"))
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Len(t, tb.Candidates(), 1)
	})
}

func TestCandidatesAfterRestart(t *testing.T) {
	t.Run("given a restart offer with new credentials when a candidate repeats then it is applied again", func(t *testing.T) {
		tb := peerlinktest.NewTransport("b")
		answerer := peerlink.New(peerlink.Answerer, tb)

		_, err := answerer.CreateAnswerFor(description("offer", 1, "first"))
		require.NoError(t, err)
		applied, err := answerer.AddRemoteCandidate(candidate("candidate:1"))
		require.NoError(t, err)
		require.True(t, applied)

		restart := description("offer", 2, "second")
		restart.ICERestart = true
		_, err = answerer.CreateAnswerFor(restart)
		require.NoError(t, err)

		applied, err = answerer.AddRemoteCandidate(candidate("candidate:1"))
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Len(t, tb.Candidates(), 2)
	})

	t.Run("given a restart answer with new credentials when a candidate repeats then it is applied again", func(t *testing.T) {
		ta := peerlinktest.NewTransport("a")
		offerer := peerlink.New(peerlink.Offerer, ta)

		_, err := offerer.CreateOffer(false)
		require.NoError(t, err)
		require.NoError(t, offerer.ApplyRemoteAnswer(description("answer", 1, "first")))
		applied, err := offerer.AddRemoteCandidate(candidate("candidate:1"))
		require.NoError(t, err)
		require.True(t, applied)

		_, err = offerer.CreateOffer(true)
		require.NoError(t, err)
		require.NoError(t, offerer.ApplyRemoteAnswer(description("answer", 2, "second")))

		applied, err = offerer.AddRemoteCandidate(candidate("candidate:1"))
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Len(t, ta.Candidates(), 2)
	})

	t.Run("given a renegotiation with the same credentials when a candidate repeats then it is a no-op", func(t *testing.T) {
		tb := peerlinktest.NewTransport("b")
		answerer := peerlink.New(peerlink.Answerer, tb)

		_, err := answerer.CreateAnswerFor(description("offer", 1, "first"))
		require.NoError(t, err)
		_, err = answerer.AddRemoteCandidate(candidate("candidate:1"))
		require.NoError(t, err)

		_, err = answerer.CreateAnswerFor(description("offer", 2, "first"))
		require.NoError(t, err)

		applied, err := answerer.AddRemoteCandidate(candidate("candidate:1"))
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Len(t, tb.Candidates(), 1)
	})
}

func TestEventsAndClose(t *testing.T) {
	ta := peerlinktest.NewTransport("a")
	l := peerlink.New(peerlink.Offerer, ta)

	ta.SetState(webrtc.PeerConnectionStateConnected)
	ev := nextEvent(t, l, peerlink.StateEvent)
	assert.Equal(t, webrtc.PeerConnectionStateConnected, ev.State)
	assert.Equal(t, webrtc.PeerConnectionStateConnected, l.State())

	track := peerlinktest.NewTrack("remote-video", webrtc.RTPCodecTypeVideo)
	ta.PushTrack(track)
	assert.Equal(t, "remote-video", nextEvent(t, l, peerlink.TrackEvent).Track.ID())

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.True(t, ta.Closed())

	_, err := l.CreateOffer(false)
	assert.ErrorIs(t, err, peerlink.ErrClosed)
	_, err = l.AddRemoteCandidate(candidate("candidate:late"))
	assert.ErrorIs(t, err, peerlink.ErrClosed)
}
