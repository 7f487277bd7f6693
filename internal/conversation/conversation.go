package conversation

import (
	"sync"
)

type Seq int64

type Record struct {
	Seq       Seq
	Timestamp int64
	UserID    string
	Content   string
	HTML      string
}

// Conversation keeps the recent message history of one thread in a
// ring buffer and tracks which members are currently online. New
// records are fanned out to online members through RecordCallback.
type Conversation struct {
	ID         string
	Records    []Record
	Members    map[string]bool
	FirstSeq   Seq
	LastSeq    Seq
	LastIndex  int
	MaxRecords int

	RecordCallback func(receiverID string, conversationID string, record Record)

	mux sync.RWMutex
}

type Config struct {
	ID             string
	MaxRecords     int
	RecordCallback func(receiverID string, conversationID string, record Record)
}

func New(config Config) *Conversation {
	return &Conversation{
		ID:             config.ID,
		MaxRecords:     config.MaxRecords,
		LastIndex:      -1,
		FirstSeq:       -1,
		LastSeq:        -1,
		Members:        make(map[string]bool),
		RecordCallback: config.RecordCallback,
	}
}

// AddRecord adds a new record to the conversation:
// - Adding it into the Records ring buffer
// - Updating FirstSeq and LastSeq
// - Sending updates to all online members
// It returns the record with its assigned sequence number.
func (c *Conversation) AddRecord(record Record) Record {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.LastSeq++
	record.Seq = c.LastSeq

	// Add record to ring buffer
	switch {
	case len(c.Records) < c.MaxRecords:
		if c.FirstSeq == -1 {
			c.FirstSeq = c.LastSeq
		}
		c.Records = append(c.Records, record)
		c.LastIndex++
	default:
		c.FirstSeq++
		i := (c.LastIndex + 1) % c.MaxRecords
		c.Records[i] = record
		c.LastIndex = i
	}

	for receiverID, online := range c.Members {
		if online && c.RecordCallback != nil {
			c.RecordCallback(receiverID, c.ID, record)
		}
	}

	return record
}

// ResumeFrom sets the next sequence number to assign. Used when a
// conversation is rebuilt from storage so new records continue the
// persisted numbering. No-op once records exist.
func (c *Conversation) ResumeFrom(next Seq) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.LastSeq == -1 && next > 0 {
		c.LastSeq = next - 1
	}
}

// OfflineMembers returns members that will not receive the fan-out.
func (c *Conversation) OfflineMembers() []string {
	c.mux.RLock()
	defer c.mux.RUnlock()

	var result []string
	for id, online := range c.Members {
		if !online {
			result = append(result, id)
		}
	}
	return result
}

func (c *Conversation) GetRecords(from, to Seq) ([]Record, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if c.FirstSeq == -1 {
		return []Record{}, nil
	}

	// Clamp range
	if from < c.FirstSeq {
		from = c.FirstSeq
	}
	if to > c.LastSeq+1 {
		to = c.LastSeq + 1
	}
	if from >= to {
		return []Record{}, nil
	}

	count := int(to - from)
	result := make([]Record, count)

	// Head index (oldest record)
	head := 0
	if len(c.Records) == c.MaxRecords {
		head = (c.LastIndex + 1) % c.MaxRecords
	}

	// Offset of 'from' relative to 'FirstSeq'
	offset := int(from - c.FirstSeq)

	startIdx := (head + offset) % len(c.Records)

	if startIdx+count <= len(c.Records) {
		copy(result, c.Records[startIdx:startIdx+count])
	} else {
		n1 := len(c.Records) - startIdx
		copy(result, c.Records[startIdx:])
		copy(result[n1:], c.Records[:count-n1])
	}

	return result, nil
}

func (c *Conversation) GetLastRecords(count int) ([]Record, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if c.LastSeq == -1 {
		return []Record{}, nil
	}

	total := int(c.LastSeq - c.FirstSeq + 1)
	if count > total {
		count = total
	}

	// We want [LastSeq - count + 1, LastSeq + 1)
	from := c.LastSeq - Seq(count) + 1

	result := make([]Record, count)

	head := 0
	if len(c.Records) == c.MaxRecords {
		head = (c.LastIndex + 1) % c.MaxRecords
	}

	offset := int(from - c.FirstSeq)
	startIdx := (head + offset) % len(c.Records)

	if startIdx+count <= len(c.Records) {
		copy(result, c.Records[startIdx:startIdx+count])
	} else {
		n1 := len(c.Records) - startIdx
		copy(result, c.Records[startIdx:])
		copy(result[n1:], c.Records[:count-n1])
	}

	return result, nil
}

func (c *Conversation) addMember(userID string, online bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.Members[userID] = online
}

func (c *Conversation) Join(userID string) {
	c.addMember(userID, true)
}

func (c *Conversation) Leave(userID string) {
	c.addMember(userID, false)
}
