package mpegts

import (
	"context"
	"errors"
	"io"

	"github.com/zsiec/reseq/parse"
)

// Demuxer reads MPEG-TS packets from a reader and produces Data containing
// parsed PAT, PMT, and PES payloads.
type Demuxer struct {
	ctx        context.Context
	reader     io.Reader
	readBuf    *parse.Buffer
	accs       *accumulatorSet
	programMap *programMap
	dataBuffer []*Data
	eof        bool
	eofData    []*Data
}

// NewDemuxer creates a new MPEG-TS demuxer reading from r.
func NewDemuxer(ctx context.Context, r io.Reader) *Demuxer {
	pm := newProgramMap()
	d := &Demuxer{
		ctx:        ctx,
		reader:     r,
		programMap: pm,
		accs:       newAccumulatorSet(pm),
		readBuf:    parse.NewBuffer(),
	}
	return d
}

// NextData returns the next parsed unit from the stream. Returns io.EOF
// when all data has been consumed.
func (d *Demuxer) NextData() (*Data, error) {
	for {
		// Drain buffered results first.
		if len(d.dataBuffer) > 0 {
			data := d.dataBuffer[0]
			d.dataBuffer = d.dataBuffer[1:]
			return data, nil
		}

		// Drain EOF results.
		if d.eof {
			if len(d.eofData) > 0 {
				data := d.eofData[0]
				d.eofData = d.eofData[1:]
				return data, nil
			}
			return nil, io.EOF
		}

		// Check context.
		if d.ctx.Err() != nil {
			return nil, d.ctx.Err()
		}

		// Read next packet.
		d.readBuf.Reset(packetSize)
		_, err := io.ReadFull(d.reader, d.readBuf.Data()[:packetSize])
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drainAccumulators()
				continue
			}
			return nil, err
		}

		pkt, err := parsePacket(d.readBuf)
		if err != nil {
			continue // skip corrupt packets
		}

		flushed := d.accs.add(pkt)
		if flushed == nil {
			continue
		}

		results, err := d.processPackets(flushed)
		if err != nil {
			continue // skip corrupt sections
		}
		if len(results) == 0 {
			continue
		}

		d.registerPATPrograms(results)
		d.dataBuffer = results[1:]
		return results[0], nil
	}
}

// registerPATPrograms promotes PMT PIDs from parsed PAT results so that
// subsequent packets on those PIDs are recognized as PSI.
func (d *Demuxer) registerPATPrograms(results []*Data) {
	for _, r := range results {
		if r.PAT == nil {
			continue
		}
		for _, p := range r.PAT.Programs {
			d.programMap.addPMTPID(p.ProgramMapID)
		}
	}
}

func (d *Demuxer) drainAccumulators() {
	for _, packets := range d.accs.dump() {
		results, err := d.processPackets(packets)
		if err != nil {
			continue
		}
		d.registerPATPrograms(results)
		d.eofData = append(d.eofData, results...)
	}
}

func (d *Demuxer) processPackets(packets []*Packet) ([]*Data, error) {
	if len(packets) == 0 {
		return nil, nil
	}

	firstPacket := packets[0]
	pid := firstPacket.Header.PID

	// Concatenate payloads.
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	// Route to the appropriate parser.
	if isPSIPayload(pid, d.programMap) {
		return parsePSI(payload, firstPacket)
	}

	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return nil, err
		}
		return []*Data{{
			FirstPacket: firstPacket,
			PES:         pes,
		}}, nil
	}

	return nil, nil
}
