package bluelink

import (
	"fmt"

	"github.com/bluelink-kr/bluelinkd/api"
)

// Error is the vendor error payload, possibly delivered with status 200
type Error struct {
	ErrCode string `json:"errCode"`
	ErrMsg  string `json:"errMsg"`
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrCode, e.ErrMsg)
}

func (e Error) vendorError() Error {
	return e
}

type response interface {
	vendorError() Error
}

// Token is the token endpoint response
type Token struct {
	Error
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Profile is the user profile response
type Profile struct {
	Error
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CarsResponse lists the account's registered cars
type CarsResponse struct {
	Error
	Cars []Car `json:"cars"`
}

type Car struct {
	CarID       string `json:"carId"`
	CarNickname string `json:"carNickname"`
	CarName     string `json:"carName"`
	CarType     string `json:"carType"`
	CarSellname string `json:"carSellname"`
	VIN         string `json:"vin"`
}

// Descriptor converts the vendor car into a vehicle descriptor
func (c Car) Descriptor() api.Vehicle {
	nick := c.CarNickname
	if nick == "" {
		nick = c.CarName
	}
	if nick == "" {
		nick = c.CarID
	}

	return api.Vehicle{
		CarID:    c.CarID,
		Nickname: nick,
		VIN:      c.VIN,
		Type:     api.NormalizeCarType(c.CarType),
	}
}

// DrivingRange is the dte (distance to empty) response
type DrivingRange struct {
	Error
	MsgID          string  `json:"msgId"`
	Value          float64 `json:"value"`
	Unit           int     `json:"unit"`
	PhevTotalValue float64 `json:"phevTotalValue"`
	PhevTotalUnit  int     `json:"phevTotalUnit"`
	Timestamp      string  `json:"timestamp"`
}

// OdometerList is the odometer response. The vendor returns a history list,
// most recent entry first.
type OdometerList struct {
	Error
	MsgID     string     `json:"msgId"`
	Odometers []Odometer `json:"odometers"`
}

type Odometer struct {
	Value     float64 `json:"value"`
	Unit      int     `json:"unit"`
	Date      string  `json:"date"`
	Timestamp string  `json:"timestamp"`
}

// Latest returns the most recent odometer entry
func (o OdometerList) Latest() (Odometer, bool) {
	if len(o.Odometers) == 0 {
		return Odometer{}, false
	}
	return o.Odometers[0], true
}

// EvBattery is the ev/battery response
type EvBattery struct {
	Error
	MsgID     string  `json:"msgId"`
	Soc       float64 `json:"soc"`
	Timestamp string  `json:"timestamp"`
}

// EvCharging is the ev/charging response
type EvCharging struct {
	Error
	MsgID         string      `json:"msgId"`
	BatteryCharge bool        `json:"batteryCharge"`
	BatteryPlugin int         `json:"batteryPlugin"`
	RemainTime    Measurement `json:"remainTime"`
	TargetSOC     TargetSoc   `json:"targetSOC"`
	Timestamp     string      `json:"timestamp"`
}

type Measurement struct {
	Value float64 `json:"value"`
	Unit  int     `json:"unit"`
}

type TargetSoc struct {
	PlugType       int     `json:"plugType"`
	TargetSOClevel float64 `json:"targetSOClevel"`
}

// Warnings is the warning lamp response
type Warnings struct {
	Error
	MsgID     string        `json:"msgId"`
	Lamps     []WarningLamp `json:"lamps"`
	Timestamp string        `json:"timestamp"`
}

type WarningLamp struct {
	Code string `json:"code"`
	On   bool   `json:"on"`
}

// Active returns the codes of all lit warning lamps
func (w Warnings) Active() []string {
	var res []string
	for _, l := range w.Lamps {
		if l.On {
			res = append(res, l.Code)
		}
	}
	return res
}
