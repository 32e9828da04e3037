package media

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jfreymuth/oggvorbis"
)

const (
	// PreviewSeconds — длина превью.
	PreviewSeconds  = 10
	previewBitDepth = 16
	wavFormatPCM    = 1

	// Кадров на одну запись в WAV
	previewChunk = 4096

	// Допустимый формат аудио. Заголовок Ogg не ограничивает частоту,
	// а размер превью от неё зависит.
	MinSampleRate = 8000
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// ErrUnsupportedAudio — аудио не декодируется как Ogg Vorbis.
var ErrUnsupportedAudio = errors.New("неподдерживаемый формат аудио")

// Stream — декодированный поток PCM (совпадает с *oggvorbis.Reader).
type Stream interface {
	Channels() int
	SampleRate() int
	// Length — длина в сэмплах на канал
	Length() int64
	SetPosition(pos int64) error
	// Read читает чередующиеся сэмплы всех каналов
	Read(p []float32) (int, error)
}

// ProbeDuration возвращает длительность Ogg Vorbis в секундах.
func ProbeDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("ошибка открытия аудио: %w", err)
	}
	defer f.Close()

	samples, format, err := oggvorbis.GetLength(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedAudio, err)
	}
	if err := checkFormat(format.SampleRate, format.Channels); err != nil {
		return 0, err
	}
	return float64(samples) / float64(format.SampleRate), nil
}

// Preview вырезает из srcPath (Ogg Vorbis) 10 секунд начиная с start
// и пишет моно WAV 16 бит в dstPath.
func Preview(srcPath string, start float64, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("ошибка открытия аудио: %w", err)
	}
	defer src.Close()

	r, err := oggvorbis.NewReader(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedAudio, err)
	}

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания превью: %w", err)
	}
	defer dst.Close()

	if err := WritePreview(r, start, dst); err != nil {
		return err
	}
	return dst.Sync()
}

// WritePreview пишет превью из потока. Начало прижимается к [0, длина-10с].
func WritePreview(s Stream, start float64, dst io.WriteSeeker) error {
	rate := s.SampleRate()
	channels := s.Channels()
	if err := checkFormat(rate, channels); err != nil {
		return err
	}

	clipLen := int64(PreviewSeconds * rate)
	from := int64(start * float64(rate))
	from = min(from, s.Length()-clipLen)
	from = max(from, 0)

	if from > 0 {
		if err := s.SetPosition(from); err != nil {
			return fmt.Errorf("ошибка позиционирования аудио: %w", err)
		}
	}

	enc := wav.NewEncoder(dst, rate, previewBitDepth, 1, wavFormatPCM)
	pcm := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, 0, previewChunk),
		SourceBitDepth: previewBitDepth,
	}
	buf := make([]float32, previewChunk*channels)

	var written int64
	for written < clipLen {
		want := min(int64(previewChunk), clipLen-written)
		n, err := s.Read(buf[:want*int64(channels)])
		frames := n / channels

		pcm.Data = pcm.Data[:0]
		for i := 0; i < frames; i++ {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += buf[i*channels+c]
			}
			pcm.Data = append(pcm.Data, toPCM16(sum/float32(channels)))
		}
		if len(pcm.Data) > 0 {
			if werr := enc.Write(pcm); werr != nil {
				return fmt.Errorf("ошибка записи превью: %w", werr)
			}
			written += int64(len(pcm.Data))
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("ошибка декодирования аудио: %w", err)
		}
		if n == 0 {
			break
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("ошибка завершения превью: %w", err)
	}
	return nil
}

// checkFormat отклоняет частоты и число каналов вне допустимого диапазона.
func checkFormat(rate, channels int) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("%w: частота дискретизации %d Гц", ErrUnsupportedAudio, rate)
	}
	if channels < 1 || channels > MaxChannels {
		return fmt.Errorf("%w: каналов %d", ErrUnsupportedAudio, channels)
	}
	return nil
}

func toPCM16(v float32) int {
	v = max(-1, min(1, v))
	return int(math.Round(float64(v) * math.MaxInt16))
}
