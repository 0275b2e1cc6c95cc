package composer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/communityhub/telegram-bridge/internal/capture"
	"github.com/communityhub/telegram-bridge/internal/timeline"
	"github.com/communityhub/telegram-bridge/internal/transport"
)

type fakeSender struct {
	err        error
	providerID int64
	calls      int
	gotText    string
	gotFile    *transport.Attachment
}

func (f *fakeSender) SendMessage(ctx context.Context, conversationID, text string, file *transport.Attachment) (int64, error) {
	f.calls++
	f.gotText = text
	f.gotFile = file
	if f.err != nil {
		return 0, f.err
	}
	return f.providerID, nil
}

type fakeSink struct {
	appended []timeline.Message
	sent     map[string]int64
	failed   []string
}

func (f *fakeSink) AppendLocal(msg timeline.Message) (string, error) {
	id := "local-test"
	msg.ID = id
	f.appended = append(f.appended, msg)
	return id, nil
}

func (f *fakeSink) MarkLocalSent(localID string, providerMessageID int64) {
	if f.sent == nil {
		f.sent = map[string]int64{}
	}
	f.sent[localID] = providerMessageID
}

func (f *fakeSink) MarkLocalFailed(localID string) {
	f.failed = append(f.failed, localID)
}

func testLimits() Limits {
	return Limits{
		PhotoMaxBytes:    20 << 20,
		DocumentMaxBytes: 20 << 20,
		VideoMaxBytes:    50 << 20,
	}
}

func TestComposer_AttachRejectsOversize(t *testing.T) {
	c := New(&fakeSender{}, nil, testLimits(), "Admin", nil)

	// 25MB: over the photo ceiling, within the video ceiling.
	data := make([]byte, 25<<20)

	err := c.Attach("big.jpg", KindPhoto, "image/jpeg", data)
	var tooLarge *ErrTooLarge
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, KindPhoto, tooLarge.Kind)
	assert.Nil(t, c.Attachment())

	require.NoError(t, c.Attach("big.mp4", KindVideo, "video/mp4", data))
	require.NotNil(t, c.Attachment())

	c.ClearAttachment()
	err = c.Attach("big.pdf", KindDocument, "application/pdf", data)
	require.ErrorAs(t, err, &tooLarge)
}

func TestComposer_AttachReplacesStaged(t *testing.T) {
	c := New(&fakeSender{}, nil, testLimits(), "Admin", nil)

	require.NoError(t, c.Attach("a.jpg", KindPhoto, "image/jpeg", []byte{1}))
	require.NoError(t, c.Attach("b.jpg", KindPhoto, "image/jpeg", []byte{2}))

	got := c.Attachment()
	require.NotNil(t, got)
	assert.Equal(t, "b.jpg", got.Name)
}

func TestComposer_SendSuccessClearsState(t *testing.T) {
	sender := &fakeSender{providerID: 99}
	sink := &fakeSink{}
	c := New(sender, sink, testLimits(), "Admin", nil)

	c.SetText("hello")
	require.NoError(t, c.Attach("pic.jpg", KindPhoto, "image/jpeg", []byte{1, 2, 3}))

	require.NoError(t, c.Send(context.Background(), "conv-1"))

	assert.Empty(t, c.Text())
	assert.Nil(t, c.Attachment())
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, "hello", sender.gotText)
	require.NotNil(t, sender.gotFile)

	require.Len(t, sink.appended, 1)
	optimistic := sink.appended[0]
	assert.Equal(t, timeline.StatusPending, optimistic.Status)
	assert.Equal(t, timeline.DirectionOutgoing, optimistic.Direction)
	assert.Equal(t, "Admin", optimistic.SenderDisplay)
	require.NotNil(t, optimistic.Media)
	assert.Equal(t, timeline.UploadPending, optimistic.Media.UploadStatus)

	assert.Equal(t, int64(99), sink.sent["local-test"])
}

func TestComposer_SendFailurePreservesState(t *testing.T) {
	sender := &fakeSender{err: errors.New("network down")}
	sink := &fakeSink{}
	c := New(sender, sink, testLimits(), "Admin", nil)

	c.SetText("Hello")
	require.NoError(t, c.Attach("pic.jpg", KindPhoto, "image/jpeg", []byte{1, 2, 3}))

	err := c.Send(context.Background(), "conv-1")
	require.Error(t, err)

	// Nothing the operator typed is lost; the optimistic insert turns failed.
	assert.Equal(t, "Hello", c.Text())
	require.NotNil(t, c.Attachment())
	assert.Equal(t, "pic.jpg", c.Attachment().Name)
	assert.Equal(t, []string{"local-test"}, sink.failed)

	// A retry sends again with the preserved state.
	sender.err = nil
	sender.providerID = 7
	require.NoError(t, c.Send(context.Background(), "conv-1"))
	assert.Empty(t, c.Text())
	assert.Nil(t, c.Attachment())
}

func TestComposer_SendRejectsEmpty(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, nil, testLimits(), "Admin", nil)

	require.Error(t, c.Send(context.Background(), "conv-1"))
	assert.Zero(t, sender.calls)
}

func TestComposer_AttachRecording(t *testing.T) {
	c := New(&fakeSender{}, nil, testLimits(), "Admin", nil)

	rec := &capture.Recording{
		FileName: "video_note_20260314_150926.webm",
		MimeType: "video/webm;codecs=vp8,opus",
		Data:     []byte{1, 2, 3, 4},
	}
	require.NoError(t, c.AttachRecording(rec))

	got := c.Attachment()
	require.NotNil(t, got)
	assert.Equal(t, KindVideoNote, got.Type)
	assert.Equal(t, rec.FileName, got.Name)
	assert.Equal(t, rec.Data, got.Data)

	require.Error(t, c.AttachRecording(nil))
}

func TestComposer_VideoNoteUsesVideoCeiling(t *testing.T) {
	limits := testLimits()
	c := New(&fakeSender{}, nil, limits, "Admin", nil)

	data := make([]byte, 30<<20)
	require.NoError(t, c.AttachRecording(&capture.Recording{
		FileName: "note.webm",
		MimeType: "video/webm",
		Data:     data,
	}))
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", mimeTypeFor(&transport.Attachment{Type: KindDocument, Name: "doc.pdf"}))
	assert.Equal(t, "image/jpeg", mimeTypeFor(&transport.Attachment{Type: KindPhoto, Name: "noext"}))
	assert.Equal(t, "video/mp4", mimeTypeFor(&transport.Attachment{Type: KindVideoNote, Name: "blob"}))
	assert.Equal(t, "application/octet-stream", mimeTypeFor(&transport.Attachment{Type: KindDocument, Name: "data.unknownext"}))
}
