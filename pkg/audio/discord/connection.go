package discord

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chimebot/chime/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64

	// drainPollInterval is how often WaitDrained re-checks playback state.
	drainPollInterval = 25 * time.Millisecond
)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are demuxed by SSRC
// into per-speaker PCM streams; outgoing PCM frames are converted to
// 48 kHz stereo and encoded to Opus.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc        *discordgo.VoiceConnection
	session   *discordgo.Session
	guildID   string
	channelID string

	inputsMu sync.RWMutex
	inputs   map[string]chan audio.Frame // keyed by user ID or SSRC string
	ssrcUser map[uint32]string

	output chan audio.Frame

	// speaking tracks whether the send loop has unplayed audio: frames
	// queued on output plus any partial frame buffered for encoding.
	speakingMu sync.Mutex
	speaking   bool

	membershipCb func(audio.Event)
	membershipMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	removeHandler  func() // removes the VoiceStateUpdate handler
	removeSpeaking func() // removes the VoiceSpeakingUpdate handler

	// disconnectVC tears down the voice connection in Disconnect.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice
// channel and starts the receive and send loops.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		channelID:    channelID,
		inputs:       make(map[string]chan audio.Frame),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.Frame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()
	go c.sendLoop()

	return c
}

// InputStreams returns a snapshot of the current per-speaker channels.
func (c *Connection) InputStreams() map[string]<-chan audio.Frame {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	snap := make(map[string]<-chan audio.Frame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// OutputStream returns the write-only playback channel.
func (c *Connection) OutputStream() chan<- audio.Frame {
	return c.output
}

// Speaking reports whether playback audio is queued or in flight.
func (c *Connection) Speaking() bool {
	if len(c.output) > 0 {
		return true
	}
	c.speakingMu.Lock()
	defer c.speakingMu.Unlock()
	return c.speaking
}

// WaitDrained blocks until all queued playback audio has been sent.
func (c *Connection) WaitDrained(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if !c.Speaking() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-ticker.C:
		}
	}
}

// OnMembershipChange registers cb for join/leave events. Subsequent calls
// replace the previous registration.
func (c *Connection) OnMembershipChange(cb func(audio.Event)) {
	c.membershipMu.Lock()
	defer c.membershipMu.Unlock()
	c.membershipCb = cb
}

// Roster returns the members currently in the voice channel, resolved
// through the session state cache.
func (c *Connection) Roster() []audio.Participant {
	guild, err := c.session.State.Guild(c.guildID)
	if err != nil {
		return nil
	}

	var roster []audio.Participant
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != c.channelID {
			continue
		}

		p := audio.Participant{ID: vs.UserID}
		if member, mErr := c.session.State.Member(c.guildID, vs.UserID); mErr == nil && member.User != nil {
			p.Username = member.User.Username
			p.DisplayName = member.User.Username
			if member.Nick != "" {
				p.DisplayName = member.Nick
			}
			p.Bot = member.User.Bot
		}
		roster = append(roster, p)
	}
	return roster
}

// Disconnect tears down the voice connection and stops all background
// goroutines. Safe to call more than once.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.inputsMu.Lock()
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
		c.inputsMu.Unlock()
	})
	return err
}

// recvLoop reads Opus packets from Discord, demuxes them by SSRC, decodes
// them, and delivers Frames to the per-speaker channels.
func (c *Connection) recvLoop() {
	// One decoder per SSRC to keep decoder state across packets.
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			ssrc := pkt.SSRC
			key := c.userKey(ssrc)

			dec, exists := decoders[ssrc]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: create opus decoder failed", "ssrc", ssrc, "error", err)
					continue
				}
				decoders[ssrc] = dec
			}

			c.inputsMu.Lock()
			ch, chExists := c.inputs[key]
			if !chExists {
				ch = make(chan audio.Frame, inputChannelBuffer)
				c.inputs[key] = ch
			}
			c.inputsMu.Unlock()

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", ssrc, "error", err)
				continue
			}

			frame := audio.Frame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			}

			select {
			case ch <- frame:
			default:
				// Channel full; drop the frame rather than block the demux.
			}
		}
	}
}

// sendLoop reads Frames from the output channel, converts them to 48 kHz
// stereo, slices exact Opus frames, and transmits them.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: create opus encoder failed", "error", err)
		return
	}

	conv := audio.Converter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}

	var buf []byte

	for {
		select {
		case <-c.done:
			c.setSpeaking(false)
			return
		case frame, ok := <-c.output:
			if !ok {
				return
			}

			c.setSpeaking(true)

			frame = conv.Convert(frame)
			buf = append(buf, frame.Data...)

			for len(buf) >= opusFrameBytes {
				packet, eErr := enc.encode(buf[:opusFrameBytes])
				buf = buf[opusFrameBytes:]
				if eErr != nil {
					slog.Warn("discord: opus encode error", "error", eErr)
					continue
				}

				select {
				case c.vc.OpusSend <- packet:
				case <-c.done:
					return
				}
			}

			// Between clips the remainder is shorter than one Opus frame;
			// treat the stream as drained once the queue is empty too.
			if len(c.output) == 0 && len(buf) < opusFrameBytes {
				c.setSpeaking(false)
			}
		}
	}
}

// handleVoiceStateUpdate detects member joins and leaves for the channel
// this connection is on.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}

	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	// Member left our channel.
	if vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == c.channelID && vsu.ChannelID != c.channelID {
		c.emitEvent(audio.Event{
			Type:     audio.EventLeave,
			UserID:   vsu.UserID,
			Username: username,
			At:       time.Now(),
		})
		return
	}

	// Member joined our channel.
	if vsu.ChannelID == c.channelID && (vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != c.channelID) {
		c.emitEvent(audio.Event{
			Type:     audio.EventJoin,
			UserID:   vsu.UserID,
			Username: username,
			At:       time.Now(),
		})
	}
}

// handleSpeakingUpdate learns the SSRC-to-user mapping from Discord
// speaking notifications, so input streams can be re-keyed by user ID.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}

	ssrc := uint32(su.SSRC)

	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()

	prev, known := c.ssrcUser[ssrc]
	if known && prev == su.UserID {
		return
	}
	c.ssrcUser[ssrc] = su.UserID

	// Re-key an existing SSRC-named stream to the user ID.
	ssrcKey := strconv.FormatUint(uint64(ssrc), 10)
	if ch, ok := c.inputs[ssrcKey]; ok {
		delete(c.inputs, ssrcKey)
		c.inputs[su.UserID] = ch
	}
}

// userKey resolves an SSRC to the stream key: the user ID when known,
// otherwise the SSRC rendered as a string.
func (c *Connection) userKey(ssrc uint32) string {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	if userID, ok := c.ssrcUser[ssrc]; ok {
		return userID
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

func (c *Connection) setSpeaking(speaking bool) {
	c.speakingMu.Lock()
	changed := c.speaking != speaking
	c.speaking = speaking
	c.speakingMu.Unlock()

	if !changed {
		return
	}
	if err := c.vc.Speaking(speaking); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", speaking, "error", err)
	}
}

// emitEvent invokes the registered membership callback, if any.
func (c *Connection) emitEvent(ev audio.Event) {
	c.membershipMu.Lock()
	cb := c.membershipCb
	c.membershipMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
