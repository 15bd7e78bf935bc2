// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package malo

import (
	"encoding/json"
	"time"

	"malo-handover/pkg/errors"
)

// DateLayout 日历日期的文本格式
const DateLayout = "2006-01-02"

// Date 日历日期（无时区、无时刻），零值表示未设置
type Date struct {
	t time.Time
}

// ParseDate 解析 YYYY-MM-DD，失败返回 ErrInvalidInput
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, errors.Invalidf("无法解析日期 %q", s)
	}
	return Date{t: t}, nil
}

// MustDate 解析失败时 panic，仅用于测试与常量
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf 取 t 在其时区下的日历日期
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// IsZero 是否未设置
func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// Compare 返回 -1、0、1
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// Before 严格早于
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// After 严格晚于
func (d Date) After(o Date) bool { return d.t.After(o.t) }

// AddDays 加减天数
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// EndOfMonth 当月最后一天
func (d Date) EndOfMonth() Date {
	y, m, _ := d.t.Date()
	return Date{t: time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)}
}

// EndOfYear 当年 12 月 31 日
func (d Date) EndOfYear() Date {
	return Date{t: time.Date(d.t.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Invalidf("日期必须为字符串: %s", string(b))
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
